package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"mycloud/internal/api"
	"mycloud/internal/config"
)

func newFilesCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Manage your stored files",
	}
	cmd.AddCommand(
		newFilesListCmd(cfg, jsonOutput),
		newFilesPutCmd(cfg, jsonOutput),
		newFilesGetCmd(cfg, jsonOutput),
		newFilesRemoveCmd(cfg, jsonOutput),
		newFilesMoveCmd(cfg, jsonOutput),
		newFilesCommentCmd(cfg, jsonOutput),
		newFilesStatsCmd(cfg, jsonOutput),
	)
	return cmd
}

func newFilesListCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var order, owner string

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				resp, err := client.ListFiles(cmd.Context(), order, owner)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(resp)
				}
				return writeFileTable(resp.Files)
			})
		},
	}

	cmd.Flags().StringVar(&order, "order", "", "sort field, prefix with - for descending (uploaded_at, name, size, download_count, last_download)")
	cmd.Flags().StringVar(&owner, "owner", "", "account id to list (administrators only)")
	return cmd
}

func newFilesPutCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var name, comment string

	cmd := &cobra.Command{
		Use:   "put <path>",
		Short: "Upload one file",
		Args:  requireExactlyArgs(1, "path is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			if name == "" {
				name = filepath.Base(path)
			}

			return withClient(cfg, func(client *api.Client) error {
				record, err := client.UploadFile(cmd.Context(), name, f, comment)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(record)
				}
				return writePlain("uploaded %s (%s) as %s\npublic link: %s\n",
					record.OriginalName, humanize.IBytes(uint64(max(record.SizeBytes, 0))), record.ID, record.PublicLink)
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "stored file name (default: base name of path)")
	cmd.Flags().StringVar(&comment, "comment", "", "comment to attach")
	return cmd
}

func newFilesGetCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var (
		dest   string
		public bool
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Download one file",
		Long:  "Download one file by id, or by public link token with --public. Use --dest - to write to stdout.",
		Args:  requireExactlyArgs(1, "id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				fetch := func(ctx context.Context, w io.Writer) (string, error) {
					if public {
						return client.DownloadPublic(ctx, args[0], w)
					}
					return client.DownloadFile(ctx, args[0], w)
				}

				if dest == "-" {
					_, err := fetch(cmd.Context(), stdout)
					return err
				}
				path, written, err := downloadToFile(cmd.Context(), dest, force, fetch)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(map[string]any{"path": path, "bytes": written})
				}
				return writePlain("saved %s (%s)\n", path, humanize.IBytes(uint64(written)))
			})
		},
	}

	cmd.Flags().StringVar(&dest, "dest", "", "destination file or directory (default: current directory)")
	cmd.Flags().BoolVar(&public, "public", false, "treat the argument as a public link token")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing destination file")
	return cmd
}

// downloadToFile streams into a temporary file next to the destination and
// renames it once the served file name is known.
func downloadToFile(ctx context.Context, dest string, force bool, fetch func(context.Context, io.Writer) (string, error)) (string, int64, error) {
	dir, target := ".", ""
	if dest != "" {
		if info, err := os.Stat(dest); err == nil && info.IsDir() {
			dir = dest
		} else {
			dir, target = filepath.Dir(dest), dest
		}
	}

	tmp, err := os.CreateTemp(dir, ".mycloud-download-*")
	if err != nil {
		return "", 0, err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	counter := &countingWriter{w: tmp}
	name, fetchErr := fetch(ctx, counter)
	closeErr := tmp.Close()
	if fetchErr != nil {
		return "", 0, fetchErr
	}
	if closeErr != nil {
		return "", 0, closeErr
	}

	if target == "" {
		base := filepath.Base(strings.TrimSpace(name))
		if base == "" || base == "." || base == string(filepath.Separator) {
			base = "download"
		}
		target = filepath.Join(dir, base)
	}
	if !force {
		if _, err := os.Stat(target); err == nil {
			return "", 0, fmt.Errorf("%s already exists (use --force to overwrite)", target)
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", 0, err
		}
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return "", 0, err
	}
	return target, counter.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func newFilesRemoveCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete one file",
		Args:    requireExactlyArgs(1, "id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				if err := client.DeleteFile(cmd.Context(), args[0]); err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(api.StatusResponse{Status: "deleted"})
				}
				return writePlain("deleted %s\n", args[0])
			})
		},
	}
}

func newFilesMoveCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:     "mv <id> <new-name>",
		Aliases: []string{"rename"},
		Short:   "Rename one file",
		Args:    requireExactlyArgs(2, "id and new name are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				record, err := client.RenameFile(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(record)
				}
				return writePlain("renamed %s to %s\n", record.ID, record.OriginalName)
			})
		},
	}
}

func newFilesCommentCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "comment <id> [text]",
		Short: "Set or clear one file's comment",
		Args:  requireRangeArgs(1, 2, "id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := ""
			if len(args) == 2 {
				text = args[1]
			}
			return withClient(cfg, func(client *api.Client) error {
				record, err := client.CommentFile(cmd.Context(), args[0], text)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(record)
				}
				return writeFileDetail(record)
			})
		},
	}
}

func newFilesStatsCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show your storage usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				stats, err := client.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(stats)
				}
				return writeUsage(stats)
			})
		},
	}
}
