package document

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/hitsz-openauto/hoa-pr/internal/models"
)

// ParseError describes why a payload is not a valid document. It matches
// models.ErrParse under errors.Is.
type ParseError struct {
	Detail string
}

func (e *ParseError) Error() string { return "parse document: " + e.Detail }

func (e *ParseError) Unwrap() error { return models.ErrParse }

func parseErrorf(format string, a ...any) error {
	return &ParseError{Detail: fmt.Sprintf(format, a...)}
}

// Wire types. Field order here is the canonical serialization order.

type authorTOML struct {
	Name string `toml:"name"`
	Link string `toml:"link"`
	Date string `toml:"date"`
}

type itemTOML struct {
	Content string `toml:"content,multiline"`
	Author  any    `toml:"author,inline,omitempty"`
}

type sectionTOML struct {
	Title string     `toml:"title"`
	Items []itemTOML `toml:"items,omitempty"`
}

type reviewTOML struct {
	Content string `toml:"content,multiline"`
	Author  any    `toml:"author,inline,omitempty"`
}

type lecturerTOML struct {
	Name    string       `toml:"name"`
	Reviews []reviewTOML `toml:"reviews,omitempty"`
}

type normalTOML struct {
	CourseCode  string         `toml:"course_code"`
	CourseName  string         `toml:"course_name"`
	RepoType    string         `toml:"repo_type"`
	Description string         `toml:"description,multiline"`
	Sections    []sectionTOML  `toml:"sections,omitempty"`
	Lecturers   []lecturerTOML `toml:"lecturers,omitempty"`
}

type courseTOML struct {
	Code     string         `toml:"code,omitempty"`
	Name     string         `toml:"name"`
	Sections []sectionTOML  `toml:"sections,omitempty"`
	Teachers []lecturerTOML `toml:"teachers,omitempty"`
}

type multiTOML struct {
	CourseCode  string       `toml:"course_code,omitempty"`
	CourseName  string       `toml:"course_name,omitempty"`
	RepoType    string       `toml:"repo_type"`
	Description string       `toml:"description,multiline"`
	Courses     []courseTOML `toml:"courses"`
}

// Parse decodes a readme.toml payload. The declared repo_type selects the
// variant; a missing repo_type means normal.
func Parse(raw string) (Document, error) {
	raw = strings.TrimPrefix(raw, "\ufeff")
	if strings.TrimSpace(raw) == "" {
		return nil, parseErrorf("empty payload")
	}

	var top map[string]any
	if err := toml.Unmarshal([]byte(raw), &top); err != nil {
		return nil, tomlError(err)
	}

	repoType, err := declaredRepoType(top)
	if err != nil {
		return nil, err
	}

	switch repoType {
	case RepoTypeNormal:
		return parseNormal(raw, top)
	case RepoTypeMultiProject:
		return parseMulti(raw, top)
	default:
		return nil, parseErrorf("unknown repo_type %q", repoType)
	}
}

func declaredRepoType(top map[string]any) (RepoType, error) {
	v, ok := top["repo_type"]
	if !ok {
		return RepoTypeNormal, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", parseErrorf("repo_type must be a string")
	}
	switch rt := RepoType(strings.TrimSpace(s)); rt {
	case "", RepoTypeNormal:
		return RepoTypeNormal, nil
	case RepoTypeMultiProject:
		return rt, nil
	default:
		return "", parseErrorf("unknown repo_type %q", s)
	}
}

func parseNormal(raw string, top map[string]any) (Document, error) {
	if _, ok := top["courses"]; ok {
		return nil, parseErrorf("courses is only valid in multi-project documents")
	}
	var w normalTOML
	if err := toml.Unmarshal([]byte(raw), &w); err != nil {
		return nil, tomlError(err)
	}
	if strings.TrimSpace(w.CourseCode) == "" {
		return nil, parseErrorf("missing required key course_code")
	}

	sections, err := sectionsFromWire(w.Sections, "sections")
	if err != nil {
		return nil, err
	}
	lecturers, err := lecturersFromWire(w.Lecturers, "lecturers")
	if err != nil {
		return nil, err
	}
	return Normal{
		CourseCode:  w.CourseCode,
		CourseName:  w.CourseName,
		Description: w.Description,
		Sections:    sections,
		Lecturers:   lecturers,
	}, nil
}

func parseMulti(raw string, top map[string]any) (Document, error) {
	courses, ok := top["courses"]
	if !ok {
		return nil, parseErrorf("multi-project documents require a courses array")
	}
	if _, ok := courses.([]any); !ok {
		return nil, parseErrorf("courses must be an array of tables")
	}
	for _, key := range []string{"sections", "lecturers"} {
		if _, ok := top[key]; ok {
			return nil, parseErrorf("%s must be nested under courses in multi-project documents", key)
		}
	}

	var w multiTOML
	if err := toml.Unmarshal([]byte(raw), &w); err != nil {
		return nil, tomlError(err)
	}

	var out []SubCourse
	for i, c := range w.Courses {
		sections, err := sectionsFromWire(c.Sections, fmt.Sprintf("courses[%d].sections", i))
		if err != nil {
			return nil, err
		}
		teachers, err := lecturersFromWire(c.Teachers, fmt.Sprintf("courses[%d].teachers", i))
		if err != nil {
			return nil, err
		}
		out = append(out, SubCourse{Code: c.Code, Name: c.Name, Sections: sections, Teachers: teachers})
	}
	return MultiProject{
		CourseCode:  w.CourseCode,
		CourseName:  w.CourseName,
		Description: w.Description,
		Courses:     out,
	}, nil
}

func sectionsFromWire(in []sectionTOML, path string) ([]Section, error) {
	var out []Section
	for i, s := range in {
		var items []Item
		for j, it := range s.Items {
			authors, err := authorsFromWire(it.Author, fmt.Sprintf("%s[%d].items[%d].author", path, i, j))
			if err != nil {
				return nil, err
			}
			items = append(items, Item{Content: it.Content, Authors: authors})
		}
		out = append(out, Section{Title: s.Title, Items: items})
	}
	return out, nil
}

func lecturersFromWire(in []lecturerTOML, path string) ([]Lecturer, error) {
	var out []Lecturer
	for i, l := range in {
		var reviews []Review
		for j, r := range l.Reviews {
			authors, err := authorsFromWire(r.Author, fmt.Sprintf("%s[%d].reviews[%d].author", path, i, j))
			if err != nil {
				return nil, err
			}
			reviews = append(reviews, Review{Content: r.Content, Authors: authors})
		}
		out = append(out, Lecturer{Name: l.Name, Reviews: reviews})
	}
	return out, nil
}

// authorsFromWire accepts a single table or an array of tables.
func authorsFromWire(v any, path string) ([]Author, error) {
	switch a := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return []Author{authorFromMap(a)}, nil
	case []any:
		var out []Author
		for _, e := range a {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, parseErrorf("%s must contain only tables", path)
			}
			out = append(out, authorFromMap(m))
		}
		return out, nil
	default:
		return nil, parseErrorf("%s must be a table or an array of tables", path)
	}
}

func authorFromMap(m map[string]any) Author {
	str := func(k string) string {
		if s, ok := m[k].(string); ok {
			return s
		}
		return ""
	}
	return Author{Name: str("name"), Link: str("link"), Date: str("date")}
}

func tomlError(err error) error {
	var derr *toml.DecodeError
	if errors.As(err, &derr) {
		row, col := derr.Position()
		return parseErrorf("line %d column %d: %s", row, col, derr.Error())
	}
	return parseErrorf("%s", err.Error())
}

// Serialize encodes doc in canonical TOML form.
func Serialize(doc Document) (string, error) {
	var w any
	switch d := doc.(type) {
	case Normal:
		w = normalTOML{
			CourseCode:  d.CourseCode,
			CourseName:  d.CourseName,
			RepoType:    string(RepoTypeNormal),
			Description: d.Description,
			Sections:    sectionsToWire(d.Sections),
			Lecturers:   lecturersToWire(d.Lecturers),
		}
	case MultiProject:
		courses := make([]courseTOML, 0, len(d.Courses))
		for _, c := range d.Courses {
			courses = append(courses, courseTOML{
				Code:     c.Code,
				Name:     c.Name,
				Sections: sectionsToWire(c.Sections),
				Teachers: lecturersToWire(c.Teachers),
			})
		}
		w = multiTOML{
			CourseCode:  d.CourseCode,
			CourseName:  d.CourseName,
			RepoType:    string(RepoTypeMultiProject),
			Description: d.Description,
			Courses:     courses,
		}
	default:
		return "", fmt.Errorf("serialize document: unknown variant %T", doc)
	}

	out, err := toml.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("serialize document: %w", err)
	}
	return string(out), nil
}

func sectionsToWire(in []Section) []sectionTOML {
	var out []sectionTOML
	for _, s := range in {
		var items []itemTOML
		for _, it := range s.Items {
			items = append(items, itemTOML{Content: it.Content, Author: authorsToWire(it.Authors)})
		}
		out = append(out, sectionTOML{Title: s.Title, Items: items})
	}
	return out
}

func lecturersToWire(in []Lecturer) []lecturerTOML {
	var out []lecturerTOML
	for _, l := range in {
		var reviews []reviewTOML
		for _, r := range l.Reviews {
			reviews = append(reviews, reviewTOML{Content: r.Content, Author: authorsToWire(r.Authors)})
		}
		out = append(out, lecturerTOML{Name: l.Name, Reviews: reviews})
	}
	return out
}

// authorsToWire writes one author as an inline table and several as an
// array, mirroring how contributors have historically been recorded.
func authorsToWire(in []Author) any {
	switch len(in) {
	case 0:
		return nil
	case 1:
		return authorTOML(in[0])
	default:
		out := make([]authorTOML, len(in))
		for i, a := range in {
			out[i] = authorTOML(a)
		}
		return out
	}
}

// Revision identifies a document version by the hash of its canonical form.
func Revision(doc Document) string {
	text, err := Serialize(doc)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}
