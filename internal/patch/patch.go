// Package patch applies append and replace edits to documents. Every
// function is pure: the input document is never modified.
package patch

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/hitsz-openauto/hoa-pr/internal/document"
	"github.com/hitsz-openauto/hoa-pr/internal/models"
)

// Result is the edited document plus a unified diff of its serialized form.
type Result struct {
	Document document.Document
	Path     document.Path
	Diff     string
}

// Append adds an item to the last top-level section titled sectionTitle,
// creating the section when no section has that title. Repeated calls add
// repeated items. Multi-project documents must use AppendToCourse.
func Append(doc document.Document, sectionTitle, content string, author *document.Author) (Result, error) {
	title := strings.TrimSpace(sectionTitle)
	if title == "" {
		return Result{}, fmt.Errorf("append: section title is required")
	}
	n, ok := doc.(document.Normal)
	if !ok {
		return Result{}, fmt.Errorf("append: %s documents need a sub-course", doc.RepoType())
	}

	out := document.Clone(n).(document.Normal)
	var si int
	out.Sections, si = appendItem(out.Sections, title, newItem(content, author))
	p := document.Path{Region: document.RegionSectionItem, Section: si, Item: len(out.Sections[si].Items) - 1}
	return finish(doc, out, p)
}

// AppendToCourse is Append for the sub-course at index course of a
// multi-project document.
func AppendToCourse(doc document.Document, course int, sectionTitle, content string, author *document.Author) (Result, error) {
	title := strings.TrimSpace(sectionTitle)
	if title == "" {
		return Result{}, fmt.Errorf("append: section title is required")
	}
	m, ok := doc.(document.MultiProject)
	if !ok {
		return Result{}, fmt.Errorf("append: %s documents have no sub-courses", doc.RepoType())
	}
	if course < 0 || course >= len(m.Courses) {
		return Result{}, fmt.Errorf("append: sub-course %d: %w", course, models.ErrNotFound)
	}

	out := document.Clone(m).(document.MultiProject)
	var si int
	out.Courses[course].Sections, si = appendItem(out.Courses[course].Sections, title, newItem(content, author))
	p := document.Path{
		Region:  document.RegionCourseSectionItem,
		Course:  course,
		Section: si,
		Item:    len(out.Courses[course].Sections[si].Items) - 1,
	}
	return finish(doc, out, p)
}

func appendItem(sections []document.Section, title string, it document.Item) ([]document.Section, int) {
	si := document.LastSection(sections, title)
	if si < 0 {
		sections = append(sections, document.Section{Title: title})
		si = len(sections) - 1
	}
	sections[si].Items = append(sections[si].Items, it)
	return sections, si
}

func newItem(content string, author *document.Author) document.Item {
	it := document.Item{Content: content}
	if author != nil {
		it.Authors = []document.Author{*author}
	}
	return it
}

// Replace swaps the text at loc for content and, when author is set, merges
// the author into the leaf's signatures. loc must carry doc's revision.
func Replace(doc document.Document, loc document.Location, content string, author *document.Author) (Result, error) {
	if _, err := document.Resolve(doc, loc); err != nil {
		return Result{}, fmt.Errorf("replace: %w", err)
	}
	out := document.Clone(doc)
	out = setLeaf(out, loc.Path, func(text *string, authors *[]document.Author) {
		*text = content
		if author != nil && authors != nil {
			*authors = MergeAuthor(*authors, *author)
		}
	})
	return finish(doc, out, loc.Path)
}

// Sign merges author into every leaf listed in paths. Paths that no longer
// exist and the description, which carries no signatures, are skipped.
func Sign(doc document.Document, paths []document.Path, author document.Author) (Result, error) {
	out := document.Clone(doc)
	for _, p := range paths {
		out = setLeaf(out, p, func(_ *string, authors *[]document.Author) {
			if authors != nil {
				*authors = MergeAuthor(*authors, author)
			}
		})
	}
	return finish(doc, out, document.Path{})
}

// MergeAuthor appends a to existing unless an identical signature is
// already present.
func MergeAuthor(existing []document.Author, a document.Author) []document.Author {
	a.Name = strings.TrimSpace(a.Name)
	a.Link = strings.TrimSpace(a.Link)
	for _, e := range existing {
		if e == a {
			return existing
		}
	}
	return append(existing, a)
}

// setLeaf applies fn to the leaf addressed by p inside an already cloned
// document. authors is nil for the description.
func setLeaf(doc document.Document, p document.Path, fn func(text *string, authors *[]document.Author)) document.Document {
	switch d := doc.(type) {
	case document.Normal:
		switch p.Region {
		case document.RegionDescription:
			fn(&d.Description, nil)
		case document.RegionSectionItem:
			if it := item(d.Sections, p.Section, p.Item); it != nil {
				fn(&it.Content, &it.Authors)
			}
		case document.RegionLecturerReview:
			if r := review(d.Lecturers, p.Lecturer, p.Review); r != nil {
				fn(&r.Content, &r.Authors)
			}
		}
		return d
	case document.MultiProject:
		switch p.Region {
		case document.RegionDescription:
			fn(&d.Description, nil)
		case document.RegionCourseSectionItem:
			if p.Course >= 0 && p.Course < len(d.Courses) {
				if it := item(d.Courses[p.Course].Sections, p.Section, p.Item); it != nil {
					fn(&it.Content, &it.Authors)
				}
			}
		case document.RegionCourseTeacherReview:
			if p.Course >= 0 && p.Course < len(d.Courses) {
				if r := review(d.Courses[p.Course].Teachers, p.Lecturer, p.Review); r != nil {
					fn(&r.Content, &r.Authors)
				}
			}
		}
		return d
	}
	return doc
}

func item(sections []document.Section, si, ii int) *document.Item {
	if si < 0 || si >= len(sections) || ii < 0 || ii >= len(sections[si].Items) {
		return nil
	}
	return &sections[si].Items[ii]
}

func review(lecturers []document.Lecturer, li, ri int) *document.Review {
	if li < 0 || li >= len(lecturers) || ri < 0 || ri >= len(lecturers[li].Reviews) {
		return nil
	}
	return &lecturers[li].Reviews[ri]
}

func finish(before, after document.Document, p document.Path) (Result, error) {
	diff, err := Diff(before, after)
	if err != nil {
		return Result{}, err
	}
	return Result{Document: after, Path: p, Diff: diff}, nil
}

// Diff returns a unified diff between the canonical serializations of two
// documents. Identical documents produce an empty string.
func Diff(before, after document.Document) (string, error) {
	a, err := document.Serialize(before)
	if err != nil {
		return "", err
	}
	b, err := document.Serialize(after)
	if err != nil {
		return "", err
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: "a/readme.toml",
		ToFile:   "b/readme.toml",
		Context:  2,
	})
}
