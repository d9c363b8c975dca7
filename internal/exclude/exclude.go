// Package exclude answers whether a resource is protected from reclamation
// by one of the static exclusion lists.
package exclude

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/bryanpaget/tenant-reaper/internal/policy"
)

// Paths names the four exclusion list files. Any of them may be empty or
// point at a file that does not exist; exclusion lists are optional.
type Paths struct {
	Namespaces  string
	Controllers string
	Pods        string
	Services    string
}

// Set holds the loaded exclusion sets. Matching is exact string equality,
// case-sensitive, no globbing. Read-only after Load, safe for concurrent use.
type Set struct {
	namespaces sets.Set[string]
	byKind     map[policy.Kind]sets.Set[string]
}

// Load builds a Set from the given list files. A missing file is an empty
// set, not an error.
func Load(paths Paths) (*Set, error) {
	namespaces, err := loadList(paths.Namespaces)
	if err != nil {
		return nil, err
	}
	controllers, err := loadList(paths.Controllers)
	if err != nil {
		return nil, err
	}
	pods, err := loadList(paths.Pods)
	if err != nil {
		return nil, err
	}
	services, err := loadList(paths.Services)
	if err != nil {
		return nil, err
	}

	return &Set{
		namespaces: namespaces,
		byKind: map[policy.Kind]sets.Set[string]{
			policy.KindController: controllers,
			policy.KindPod:        pods,
			policy.KindService:    services,
		},
	}, nil
}

// Empty returns a Set that excludes nothing.
func Empty() *Set {
	return &Set{
		namespaces: sets.New[string](),
		byKind: map[policy.Kind]sets.Set[string]{
			policy.KindController: sets.New[string](),
			policy.KindPod:        sets.New[string](),
			policy.KindService:    sets.New[string](),
		},
	}
}

// IsExcluded reports whether the resource is protected. An excluded
// namespace protects every kind in it and is checked before the
// kind-specific name sets.
func (s *Set) IsExcluded(kind policy.Kind, name, namespace string) bool {
	if s.namespaces.Has(namespace) {
		return true
	}
	names, ok := s.byKind[kind]
	if !ok {
		return false
	}
	return names.Has(name)
}

// Counts returns the loaded set sizes, for startup logging.
func (s *Set) Counts() (namespaces, controllers, pods, services int) {
	return s.namespaces.Len(),
		s.byKind[policy.KindController].Len(),
		s.byKind[policy.KindPod].Len(),
		s.byKind[policy.KindService].Len()
}

// loadList parses a line-oriented name list: one name per line, '#' starts
// a comment stripped to end of line, surrounding whitespace trimmed, blank
// lines ignored.
func loadList(path string) (sets.Set[string], error) {
	out := sets.New[string]()
	if path == "" {
		return out, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("opening exclusion list %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out.Insert(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading exclusion list %s: %w", path, err)
	}
	return out, nil
}
