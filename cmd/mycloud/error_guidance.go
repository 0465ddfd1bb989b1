package main

import (
	"context"
	"errors"
	"net"

	"mycloud/internal/api"
	"mycloud/internal/apperrors"
)

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		switch apperrors.Code(apiErr.Code) {
		case apperrors.CodeUnauthenticated, apperrors.CodeInvalidToken:
			lines = append(lines, "hint: run `mycloud login <username> --password-stdin` and export MYCLOUD_TOKEN.")
		case apperrors.CodeInvalidCredentials:
			lines = append(lines, "hint: check the username and password.")
		case apperrors.CodeRateLimited:
			lines = append(lines, "hint: too many failed logins; wait before retrying.")
		case apperrors.CodeInsufficientPermissions:
			lines = append(lines, "hint: this operation requires an administrator account.")
		case apperrors.CodeFileTooLarge, apperrors.CodeFileLimitExceeded:
			lines = append(lines, "hint: check limits.max_upload_bytes and limits.max_files_per_user on the server.")
		}
		if apiErr.Code == "" {
			lines = append(lines, "hint: verify MYCLOUD_API_URL points to a mycloud server.")
		}
		if apiErr.Status >= 500 {
			lines = append(lines, "hint: server returned an internal error; check server logs for details.")
		}
		return uniqueLines(lines)
	}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) && appErr.Kind == apperrors.KindIO {
		lines = append(lines, "hint: check permissions on storage.root and db_path.")
		return uniqueLines(lines)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		lines = append(lines, "hint: request timed out; check server health or increase MYCLOUD_HTTP_TIMEOUT.")
		return uniqueLines(lines)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		lines = append(lines,
			"hint: ensure a mycloud server is running at MYCLOUD_API_URL.",
			"hint: start a local server with: mycloud srv",
		)
		return uniqueLines(lines)
	}

	return uniqueLines(lines)
}

func uniqueLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
