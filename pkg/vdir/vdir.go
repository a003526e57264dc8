// Package vdir layers a client-side directory convention on top of
// the flat blockfs namespace: a directory at canonical path "/a/b" is
// represented by a zero-length file named "a/b/" (spec.md §4.3). The
// filesystem server treats the name as an opaque string; all of the
// directory semantics here live entirely in the client.
package vdir

import (
	"fmt"
	"strings"

	"github.com/ondisk/blockfs/pkg/blockfs"
)

// Session tracks a single client's current working directory against
// one blockfs connection.
type Session struct {
	client *blockfs.Client
	cwd    string
}

// NewSession starts a Session rooted at "/".
func NewSession(client *blockfs.Client) *Session {
	return &Session{client: client, cwd: "/"}
}

// Pwd returns the current working directory.
func (s *Session) Pwd() string {
	return s.cwd
}

// Canonicalize joins name against cwd (if name isn't already
// absolute) and collapses it to a path with a leading '/' and no
// trailing '/', except root itself. It does not resolve ".." the way
// path.Clean would: per spec.md §4.3 only absolute or single-component
// names are meaningful here ("cd .." is not supported), so a ".."
// segment is carried through as a literal path component rather than
// walking up, matching original_source/fs_dirs.c's join_path.
func Canonicalize(cwd, name string) string {
	name = strings.TrimSuffix(name, "/")
	var joined string
	if strings.HasPrefix(name, "/") {
		joined = name
	} else if cwd == "/" {
		joined = "/" + name
	} else {
		joined = cwd + "/" + name
	}
	for strings.Contains(joined, "//") {
		joined = strings.ReplaceAll(joined, "//", "/")
	}
	joined = strings.TrimSuffix(joined, "/")
	if joined == "" {
		joined = "/"
	}
	return joined
}

// ToFSName converts a canonical path into its blockfs marker name. The
// root directory is implicit and has no marker, represented by "".
func ToFSName(canonical string) string {
	if canonical == "/" {
		return ""
	}
	return strings.TrimPrefix(canonical, "/") + "/"
}

// Mkdir creates the directory marker for name, resolved against cwd.
// Returns the canonical path and the raw blockfs status code (0
// created, 1 already exists, 2 other failure).
func (s *Session) Mkdir(name string) (canonical string, code int, err error) {
	canonical = Canonicalize(s.cwd, name)
	if canonical == "/" {
		return canonical, 0, fmt.Errorf("vdir: mkdir: cannot create root directory")
	}
	code, err = s.client.Create(ToFSName(canonical))
	return canonical, code, err
}

// Cd changes the session's cwd to name if its marker exists (or it is
// root, which always exists). Returns the resolved canonical path, a
// bool reporting whether the change succeeded, and the raw status
// code for a failed lookup (1 = does not exist, 2 = other failure).
func (s *Session) Cd(name string) (canonical string, ok bool, code int, err error) {
	canonical = Canonicalize(s.cwd, name)
	if canonical == "/" {
		s.cwd = "/"
		return canonical, true, 0, nil
	}

	code, _, err = s.client.Read(ToFSName(canonical))
	if err != nil {
		return canonical, false, 0, err
	}
	if code != 0 {
		return canonical, false, code, nil
	}
	s.cwd = canonical
	return canonical, true, 0, nil
}

// Rmdir removes the directory marker for name, refusing if any entry
// other than the marker itself has a name beginning with its
// fsname (i.e. the directory is non-empty). Returns the canonical
// path and the raw status code (0 removed, 1 not present, 2 other
// failure including non-empty).
func (s *Session) Rmdir(name string) (canonical string, code int, err error) {
	canonical = Canonicalize(s.cwd, name)
	if canonical == "/" {
		return canonical, 2, fmt.Errorf("vdir: rmdir: cannot remove root directory")
	}
	fsname := ToFSName(canonical)

	readCode, _, err := s.client.Read(fsname)
	if err != nil {
		return canonical, 0, err
	}
	if readCode != 0 {
		return canonical, readCode, nil
	}

	entries, err := s.client.List(true)
	if err != nil {
		return canonical, 0, err
	}
	for _, e := range entries {
		if e.Name != fsname && strings.HasPrefix(e.Name, fsname) {
			return canonical, 2, nil
		}
	}

	code, err = s.client.Delete(fsname)
	return canonical, code, err
}
