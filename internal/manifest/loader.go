package manifest

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"github.com/blackwell-systems/craftbrew/internal/brew"
	errs "github.com/blackwell-systems/craftbrew/internal/errors"
)

// maxParallelReads bounds concurrent manifest reads.
const maxParallelReads = 8

// Load parses every manifest in paths concurrently and merges the result.
// Any parse failure aborts the load.
func Load(ctx context.Context, paths ...string) (*DesiredState, error) {
	if len(paths) == 0 {
		return nil, errs.New(errs.ErrInvalidInput, "no manifests given").
			WithHint("pass --manifests, or configure a profile and use --system")
	}

	manifests := make([]*Manifest, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelReads)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m, err := ParseFile(path)
			if err != nil {
				return err
			}
			manifests[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return Merge(manifests...)
}

// Merge unions the declarations of every manifest. A package declared more
// than once with differing attributes is a conflict, regardless of whether
// the declarations come from the same manifest. The result does not depend
// on the order of the arguments.
func Merge(manifests ...*Manifest) (*DesiredState, error) {
	type origin struct {
		pkg  brew.Package
		path string
		line int
	}

	seen := make(map[brew.Identity][]origin)
	var paths []string
	for _, m := range manifests {
		if m == nil {
			continue
		}
		paths = append(paths, m.Path)
		for _, d := range m.Declarations {
			seen[d.Package.Identity] = append(seen[d.Package.Identity], origin{pkg: d.Package, path: m.Path, line: d.Line})
		}
	}
	sort.Strings(paths)

	var conflicts []string
	packages := make(brew.Set, len(seen))
	for id, origins := range seen {
		sort.Slice(origins, func(i, j int) bool {
			if origins[i].path != origins[j].path {
				return origins[i].path < origins[j].path
			}
			return origins[i].line < origins[j].line
		})
		first := origins[0]
		for _, o := range origins[1:] {
			if !first.pkg.SameAttributes(o.pkg) {
				conflicts = append(conflicts, fmt.Sprintf("%s declared as {%s} in %s:%d and {%s} in %s:%d",
					id, formatAttributes(first.pkg.Attributes), first.path, first.line,
					formatAttributes(o.pkg.Attributes), o.path, o.line))
				break
			}
		}
		packages.Add(first.pkg)
	}

	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		return nil, errs.Newf(errs.ErrManifestConflict, "conflicting declarations: %s", strings.Join(conflicts, "; ")).
			WithHint("make the attributes identical or remove one of the declarations").
			WithDetail("conflicts", conflicts)
	}

	return &DesiredState{
		Packages:  packages,
		Manifests: paths,
		Hash:      Hash(packages),
	}, nil
}

// Hash returns the content digest of a package set. Packages are rendered
// in identity order with sorted attributes, one per line.
func Hash(set brew.Set) digest.Digest {
	return digest.FromBytes(Canonical(set))
}

// Canonical renders set deterministically.
func Canonical(set brew.Set) []byte {
	var sb strings.Builder
	for _, p := range set.Sorted() {
		sb.WriteString(p.Identity.String())
		if attrs := formatAttributes(p.Attributes); attrs != "" {
			sb.WriteByte(' ')
			sb.WriteString(attrs)
		}
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}

func formatAttributes(attrs map[string]string) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + attrs[k]
	}
	return strings.Join(parts, ",")
}
