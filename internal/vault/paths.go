package vault

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	illegalChars = regexp.MustCompile(`[\\/:*?"<>|]`)
	// skipNames are noise directories excluded from the initial scan, in
	// addition to any dot-directory.
	skipNames = map[string]struct{}{
		"node_modules": {},
	}
)

const maxBaseNameLen = 80

// sanitizeTitle turns a human title into a filesystem-safe base name:
// path-illegal characters stripped, whitespace runs collapsed to a single
// dash, lowercased, length capped.
func sanitizeTitle(title string) string {
	s := illegalChars.ReplaceAllString(title, "")
	s = strings.Join(strings.Fields(s), "-")
	s = strings.ToLower(s)
	if len(s) > maxBaseNameLen {
		// Cut on a rune boundary so multi-byte titles stay valid UTF-8.
		cut := maxBaseNameLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	s = strings.Trim(s, "-.")
	if s == "" {
		return "untitled"
	}
	return s
}

// cleanFolder normalizes a vault-relative folder ("" means root) and rejects
// anything that would escape the vault.
func cleanFolder(folder string) (string, error) {
	folder = strings.Trim(strings.ReplaceAll(folder, "\\", "/"), "/")
	if folder == "" {
		return "", nil
	}
	cleaned := path.Clean(folder)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || path.IsAbs(cleaned) {
		return "", fmt.Errorf("vault: folder escapes vault root: %s", folder)
	}
	if cleaned == "." {
		return "", nil
	}
	return cleaned, nil
}

// displayName derives the human title: frontmatter title if present, else
// the file name without extension.
func displayName(fm map[string]any, rel string) string {
	if t, ok := fm["title"].(string); ok && t != "" {
		return t
	}
	base := path.Base(rel)
	return strings.TrimSuffix(base, path.Ext(base))
}

// folderOf returns the vault-relative parent directory, "" for root.
func folderOf(rel string) string {
	dir := path.Dir(rel)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

func skipDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	_, ok := skipNames[name]
	return ok
}

// epochMillis coerces the loose types YAML hands back for a created_at
// value into epoch milliseconds.
func epochMillis(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case uint64:
		return int64(t), true
	case float64:
		return int64(t), true
	case string:
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts.UnixMilli(), true
		}
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}
