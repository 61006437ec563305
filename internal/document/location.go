package document

import (
	"fmt"

	"github.com/hitsz-openauto/hoa-pr/internal/models"
)

// Region classifies the structural area a text leaf lives in.
type Region string

const (
	RegionDescription         Region = "description"
	RegionSectionItem         Region = "section-item"
	RegionLecturerReview      Region = "lecturer-review"
	RegionCourseSectionItem   Region = "course-section-item"
	RegionCourseTeacherReview Region = "course-teacher-review"
)

// Path addresses a text leaf structurally. Which indices are meaningful
// depends on Region.
type Path struct {
	Region   Region `json:"region"`
	Course   int    `json:"course,omitempty"`
	Section  int    `json:"section,omitempty"`
	Item     int    `json:"item,omitempty"`
	Lecturer int    `json:"lecturer,omitempty"`
	Review   int    `json:"review,omitempty"`
}

func (p Path) String() string {
	switch p.Region {
	case RegionDescription:
		return "description"
	case RegionSectionItem:
		return fmt.Sprintf("section[%d].item[%d]", p.Section, p.Item)
	case RegionLecturerReview:
		return fmt.Sprintf("lecturer[%d].review[%d]", p.Lecturer, p.Review)
	case RegionCourseSectionItem:
		return fmt.Sprintf("course[%d].section[%d].item[%d]", p.Course, p.Section, p.Item)
	case RegionCourseTeacherReview:
		return fmt.Sprintf("course[%d].teacher[%d].review[%d]", p.Course, p.Lecturer, p.Review)
	default:
		return "unknown"
	}
}

// Location is a Path bound to the revision of the document it was derived
// from. It is only valid against that exact revision.
type Location struct {
	Path
	Revision string `json:"revision"`
}

func (l Location) String() string {
	return l.Path.String() + "@" + l.Revision
}

// Leaf is one addressable text field.
type Leaf struct {
	Location Location
	Text     string
	// Context names the enclosing structure for display, e.g. the section
	// title or the lecturer name.
	Context string
	Course  string
}

// Leaves enumerates every addressable text field in traversal order:
// description, then reviews before items (per sub-course for multi-project
// documents).
func Leaves(doc Document) []Leaf {
	rev := Revision(doc)
	bind := func(p Path) Location { return Location{Path: p, Revision: rev} }

	var out []Leaf
	switch d := doc.(type) {
	case Normal:
		out = append(out, Leaf{Location: bind(Path{Region: RegionDescription}), Text: d.Description})
		for li, l := range d.Lecturers {
			for ri, r := range l.Reviews {
				out = append(out, Leaf{
					Location: bind(Path{Region: RegionLecturerReview, Lecturer: li, Review: ri}),
					Text:     r.Content,
					Context:  l.Name,
				})
			}
		}
		for si, s := range d.Sections {
			for ii, it := range s.Items {
				out = append(out, Leaf{
					Location: bind(Path{Region: RegionSectionItem, Section: si, Item: ii}),
					Text:     it.Content,
					Context:  s.Title,
				})
			}
		}
	case MultiProject:
		out = append(out, Leaf{Location: bind(Path{Region: RegionDescription}), Text: d.Description})
		for ci, c := range d.Courses {
			for ti, t := range c.Teachers {
				for ri, r := range t.Reviews {
					out = append(out, Leaf{
						Location: bind(Path{Region: RegionCourseTeacherReview, Course: ci, Lecturer: ti, Review: ri}),
						Text:     r.Content,
						Context:  t.Name,
						Course:   c.Name,
					})
				}
			}
			for si, s := range c.Sections {
				for ii, it := range s.Items {
					out = append(out, Leaf{
						Location: bind(Path{Region: RegionCourseSectionItem, Course: ci, Section: si, Item: ii}),
						Text:     it.Content,
						Context:  s.Title,
						Course:   c.Name,
					})
				}
			}
		}
	}
	return out
}

// Bind resolves a structural path against doc and returns a Location for the
// current revision. It fails with models.ErrStaleLocation when the path does
// not exist in doc.
func Bind(doc Document, p Path) (Location, error) {
	loc := Location{Path: p, Revision: Revision(doc)}
	if _, err := Resolve(doc, loc); err != nil {
		return Location{}, err
	}
	return loc, nil
}

// Resolve returns the text at loc. The location must carry doc's revision.
func Resolve(doc Document, loc Location) (string, error) {
	if loc.Revision == "" || loc.Revision != Revision(doc) {
		return "", fmt.Errorf("%s: %w", loc.Path, models.ErrStaleLocation)
	}
	text, ok := lookup(doc, loc.Path)
	if !ok {
		return "", fmt.Errorf("%s: %w", loc.Path, models.ErrStaleLocation)
	}
	return text, nil
}

func lookup(doc Document, p Path) (string, bool) {
	switch d := doc.(type) {
	case Normal:
		switch p.Region {
		case RegionDescription:
			return d.Description, true
		case RegionSectionItem:
			return sectionItem(d.Sections, p.Section, p.Item)
		case RegionLecturerReview:
			return lecturerReview(d.Lecturers, p.Lecturer, p.Review)
		}
	case MultiProject:
		switch p.Region {
		case RegionDescription:
			return d.Description, true
		case RegionCourseSectionItem:
			if !inRange(p.Course, len(d.Courses)) {
				return "", false
			}
			return sectionItem(d.Courses[p.Course].Sections, p.Section, p.Item)
		case RegionCourseTeacherReview:
			if !inRange(p.Course, len(d.Courses)) {
				return "", false
			}
			return lecturerReview(d.Courses[p.Course].Teachers, p.Lecturer, p.Review)
		}
	}
	return "", false
}

func sectionItem(sections []Section, si, ii int) (string, bool) {
	if !inRange(si, len(sections)) || !inRange(ii, len(sections[si].Items)) {
		return "", false
	}
	return sections[si].Items[ii].Content, true
}

func lecturerReview(lecturers []Lecturer, li, ri int) (string, bool) {
	if !inRange(li, len(lecturers)) || !inRange(ri, len(lecturers[li].Reviews)) {
		return "", false
	}
	return lecturers[li].Reviews[ri].Content, true
}

func inRange(i, n int) bool { return i >= 0 && i < n }

// LastSection returns the index of the last section titled title, or -1.
func LastSection(sections []Section, title string) int {
	for i := len(sections) - 1; i >= 0; i-- {
		if sections[i].Title == title {
			return i
		}
	}
	return -1
}

// FindCourse returns the index of the sub-course named name, or -1.
func FindCourse(d MultiProject, name string) int {
	for i, c := range d.Courses {
		if c.Name == name || (c.Code != "" && c.Code == name) {
			return i
		}
	}
	return -1
}
