package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"mycloud/internal/format"
	"mycloud/internal/models"
)

var (
	outputFormatter format.Formatter = format.JSONFormatter{}
	stdout          io.Writer        = os.Stdout
)

func writeJSON(payload any) error {
	return outputFormatter.Write(stdout, payload)
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(stdout, format, args...)
	return err
}

func writeFileTable(records []models.FileRecord) error {
	if len(records) == 0 {
		return writePlain("no files\n")
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSIZE\tUPLOADED\tDOWNLOADS")
	for _, record := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
			record.ID,
			record.OriginalName,
			humanize.IBytes(uint64(max(record.SizeBytes, 0))),
			humanize.Time(record.UploadedAt),
			record.DownloadCount,
		)
	}
	return tw.Flush()
}

func writeFileDetail(record models.FileRecord) error {
	lines := []string{
		fmt.Sprintf("id: %s", record.ID),
		fmt.Sprintf("name: %s", record.OriginalName),
		fmt.Sprintf("size: %s (%d bytes)", humanize.IBytes(uint64(max(record.SizeBytes, 0))), record.SizeBytes),
		fmt.Sprintf("category: %s", record.MimeCategory),
		fmt.Sprintf("uploaded_at: %s", formatTime(record.UploadedAt)),
		fmt.Sprintf("downloads: %d", record.DownloadCount),
		fmt.Sprintf("public_link: %s", record.PublicLink),
	}
	if record.ContentType != "" {
		lines = append(lines, fmt.Sprintf("content_type: %s", record.ContentType))
	}
	if record.LastDownloadAt != nil {
		lines = append(lines, fmt.Sprintf("last_download_at: %s", formatTime(*record.LastDownloadAt)))
	}
	if record.Comment != "" {
		lines = append(lines, fmt.Sprintf("comment: %s", record.Comment))
	}
	return writePlain("%s\n", strings.Join(lines, "\n"))
}

func writeAccountTable(users []models.AccountUsage) error {
	if len(users) == 0 {
		return writePlain("no users\n")
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USERNAME\tROLE\tSTATUS\tFILES\tUSED\tID")
	for _, user := range users {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			user.Username,
			user.Role,
			accountStatus(user.IsActive),
			user.FileCount,
			humanize.IBytes(uint64(max(user.TotalBytes, 0))),
			user.ID,
		)
	}
	return tw.Flush()
}

func writeUsage(stats models.UsageStats) error {
	return writePlain("%s in %s\n",
		humanize.IBytes(uint64(max(stats.TotalBytes, 0))),
		pluralize(stats.FileCount, "file", "files"),
	)
}

func accountStatus(active bool) string {
	if active {
		return "active"
	}
	return "disabled"
}

func pluralize(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%s %s", humanize.Comma(int64(n)), plural)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
