package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hitsz-openauto/hoa-pr/internal/document"
	"github.com/hitsz-openauto/hoa-pr/internal/models"
)

// ReadmeName is the file name of a course document inside a repository.
const ReadmeName = "readme.toml"

// auxiliary TOML files that sit next to course documents but are not one
var skipNames = map[string]bool{"teachers_reviews.toml": true}

// nickname files looked up at the root of an imported tree, in order
var nicknameFiles = []string{"nicknames.yaml", "nicknames.yml", "nicknames.json"}

// Result holds the outcome of importing a single document.
type Result struct {
	Path    string   `json:"path"`
	Repo    string   `json:"repo"`
	Courses []string `json:"courses,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// AllResult holds the outcome of importing a directory tree.
type AllResult struct {
	Imported  int      `json:"imported"`
	Total     int      `json:"total"`
	Failed    int      `json:"failed"`
	Nicknames int      `json:"nicknames"`
	Results   []Result `json:"results"`
}

// Import indexes every course document under dir. Files named readme.toml
// are preferred; when the tree has none, every *.toml file except known
// auxiliary files is tried. A document that fails to parse is reported and
// skipped. Nicknames from nicknames.{yaml,yml,json} at the root are loaded
// after the courses.
func Import(ctx context.Context, s CourseStore, dir string) (*AllResult, error) {
	files, err := collect(dir)
	if err != nil {
		return nil, err
	}

	all := &AllResult{Total: len(files)}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		res := importFile(ctx, s, dir, path)
		if res.Error != "" {
			all.Failed++
		} else {
			all.Imported++
		}
		all.Results = append(all.Results, res)
	}

	n, err := importNicknames(ctx, s, dir)
	if err != nil {
		return all, err
	}
	all.Nicknames = n
	return all, nil
}

func collect(dir string) ([]string, error) {
	var readmes, others []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		name := strings.ToLower(d.Name())
		switch {
		case name == ReadmeName:
			readmes = append(readmes, path)
		case strings.HasSuffix(name, ".toml") && !skipNames[name]:
			others = append(others, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	if len(readmes) > 0 {
		sort.Strings(readmes)
		return readmes, nil
	}
	sort.Strings(others)
	return others, nil
}

// repoName derives the repository name from the document's location:
// <root>/<repo>/readme.toml, or the file stem for a flat tree.
func repoName(root, path string) string {
	if strings.EqualFold(filepath.Base(path), ReadmeName) {
		parent := filepath.Dir(path)
		if filepath.Clean(parent) != filepath.Clean(root) {
			return filepath.Base(parent)
		}
	}
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func importFile(ctx context.Context, s CourseStore, root, path string) Result {
	repo := repoName(root, path)
	res := Result{Path: path, Repo: repo}

	raw, err := os.ReadFile(path)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	doc, err := document.Parse(string(raw))
	if err != nil {
		res.Error = err.Error()
		return res
	}

	for _, c := range coursesOf(doc, repo, path) {
		if err := s.UpsertCourse(ctx, c); err != nil {
			res.Error = err.Error()
			return res
		}
		res.Courses = append(res.Courses, c.CourseCode)
	}
	return res
}

// coursesOf returns the catalog rows for doc: the repository itself and,
// for multi-project documents, one row per sub-course.
func coursesOf(doc document.Document, repo, path string) []*models.Course {
	h := doc.Header()
	code := strings.ToUpper(strings.TrimSpace(h.CourseCode))
	if code == "" {
		code = strings.ToUpper(repo)
	}
	name := strings.TrimSpace(h.CourseName)
	if name == "" {
		name = code
	}
	parent := &models.Course{
		RepoName:   repo,
		CourseCode: code,
		CourseName: name,
		RepoType:   string(doc.RepoType()),
		Path:       path,
	}
	out := []*models.Course{parent}

	switch d := doc.(type) {
	case document.Normal:
	case document.MultiProject:
		for _, sub := range d.Courses {
			subName := strings.TrimSpace(sub.Name)
			subCode := strings.ToUpper(strings.TrimSpace(sub.Code))
			if subCode == "" {
				if subName == "" {
					continue
				}
				// uncoded sub-courses are reachable by name only
				subCode = code + "/" + subName
			}
			if subName == "" {
				subName = subCode
			}
			out = append(out, &models.Course{
				RepoName:   repo,
				CourseCode: subCode,
				CourseName: subName,
				RepoType:   parent.RepoType,
				ParentCode: code,
				Path:       path,
			})
		}
	}
	return out
}

// importNicknames loads a nick → course code map. JSON files parse as YAML.
// Nicknames pointing at unknown courses are skipped.
func importNicknames(ctx context.Context, s CourseStore, dir string) (int, error) {
	for _, name := range nicknameFiles {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", name, err)
		}

		var nicks map[string]string
		if err := yaml.Unmarshal(data, &nicks); err != nil {
			return 0, fmt.Errorf("parse %s: %w", name, err)
		}

		keys := make([]string, 0, len(nicks))
		for k := range nicks {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		r := NewResolver(s)
		n := 0
		for _, nick := range keys {
			err := r.AddNickname(ctx, nick, nicks[nick])
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			if err != nil {
				return n, err
			}
			n++
		}
		return n, nil
	}
	return 0, nil
}
