package sync

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	shorthandRe = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9-]*)/([A-Za-z0-9._-]+)$`)
	httpsRe     = regexp.MustCompile(`^https?://(?:www\.)?github\.com/([A-Za-z0-9][A-Za-z0-9-]*)/([A-Za-z0-9._-]+?)(?:\.git)?/?$`)
	sshRe       = regexp.MustCompile(`^git@github\.com:([A-Za-z0-9][A-Za-z0-9-]*)/([A-Za-z0-9._-]+?)(?:\.git)?$`)
)

// ParseRepositoryURL extracts the owner and name from "owner/name",
// "https://github.com/owner/name[.git]" or "git@github.com:owner/name.git"
func ParseRepositoryURL(raw string) (string, string, error) {
	s := strings.TrimSpace(raw)
	for _, re := range []*regexp.Regexp{shorthandRe, httpsRe, sshRe} {
		if m := re.FindStringSubmatch(s); m != nil {
			name := strings.TrimSuffix(m[2], ".git")
			if name == "" || name == "." || name == ".." {
				break
			}
			return m[1], name, nil
		}
	}
	return "", "", fmt.Errorf("invalid repository, expected 'owner/name' or a github.com URL, got '%s'", raw)
}

// CanonicalRepositoryURL is the key repositories, queue items and history are stored under
func CanonicalRepositoryURL(owner, name string) string {
	return fmt.Sprintf("https://github.com/%s/%s", owner, name)
}
