package channel

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"signalpush/internal/domain"
)

const (
	maxMediaBytes   = 20 << 20
	downloadTimeout = 60 * time.Second
)

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9_.\-]+`)

// MediaTypeFromMIME classifies an attachment by its MIME type.
func MediaTypeFromMIME(mimeType string) domain.MediaType {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mimeType))
	}
	switch {
	case mt == "":
		return domain.MediaOther
	case strings.HasPrefix(mt, "image/"):
		return domain.MediaImage
	case strings.HasPrefix(mt, "video/"):
		return domain.MediaVideo
	case strings.HasPrefix(mt, "audio/"):
		return domain.MediaAudio
	default:
		return domain.MediaDocument
	}
}

// MediaPath returns <dir>/<source>/<chatID>/<messageID>_<unix><ext>.
func MediaPath(dir, source, chatID, messageID string, ts time.Time, ext string) string {
	name := fmt.Sprintf("%s_%d%s", sanitize(messageID), ts.Unix(), sanitize(ext))
	return filepath.Join(dir, sanitize(source), sanitize(chatID), name)
}

func sanitize(s string) string {
	s = unsafePathChars.ReplaceAllString(s, "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// extFor picks a file extension from a name or URL, falling back to the MIME type.
func extFor(name, mimeType string) string {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	if ext := filepath.Ext(name); ext != "" && len(ext) <= 6 {
		return strings.ToLower(ext)
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// downloadFile fetches url into path, refusing bodies above maxMediaBytes.
// A partial file is removed on failure.
func downloadFile(ctx context.Context, client *http.Client, url, path string) error {
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download media: HTTP %d", resp.StatusCode)
	}
	if resp.ContentLength > maxMediaBytes {
		return fmt.Errorf("download media: %d bytes exceeds limit", resp.ContentLength)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create media dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, io.LimitReader(resp.Body, maxMediaBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > maxMediaBytes {
		err = fmt.Errorf("download media: body exceeds %d bytes", maxMediaBytes)
	}
	if err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// allowList matches chat ids or names case-insensitively. Empty allows all.
type allowList map[string]struct{}

func newAllowList(entries []string) allowList {
	l := make(allowList)
	for _, e := range entries {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "@"))
		if e != "" {
			l[e] = struct{}{}
		}
	}
	return l
}

func (l allowList) allows(keys ...string) bool {
	if len(l) == 0 {
		return true
	}
	for _, k := range keys {
		if _, ok := l[strings.ToLower(strings.TrimPrefix(k, "@"))]; ok && k != "" {
			return true
		}
	}
	return false
}

// splitMessage splits a message into chunks of at most maxLen bytes,
// preferring newlines and never cutting inside a rune.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		cut := maxLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxLen
		}
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
