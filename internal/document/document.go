// Package document models the readme.toml course description in its two
// variants and converts it to and from TOML.
package document

// RepoType selects the document variant.
type RepoType string

const (
	RepoTypeNormal       RepoType = "normal"
	RepoTypeMultiProject RepoType = "multi-project"
)

// Author is a contributor signature attached to an item or review.
type Author struct {
	Name string
	Link string
	Date string // YYYY-MM
}

// Item is one free-text entry of a section.
type Item struct {
	Content string
	Authors []Author
}

// Section is a titled, ordered group of items. Titles are not unique.
type Section struct {
	Title string
	Items []Item
}

// Review is one free-text review of a lecturer.
type Review struct {
	Content string
	Authors []Author
}

// Lecturer carries reviews. Multi-project documents call these teachers.
type Lecturer struct {
	Name    string
	Reviews []Review
}

// SubCourse is one course block of a multi-project document.
type SubCourse struct {
	Code     string
	Name     string
	Sections []Section
	Teachers []Lecturer
}

// Header holds the fields rendered at the top of a document.
type Header struct {
	CourseCode  string
	CourseName  string
	Description string
}

// Document is a closed union of Normal and MultiProject. Values are never
// mutated after construction; edits go through Clone.
type Document interface {
	RepoType() RepoType
	Header() Header
	isDocument()
}

// Normal is the single-course variant.
type Normal struct {
	CourseCode  string
	CourseName  string
	Description string
	Sections    []Section
	Lecturers   []Lecturer
}

// MultiProject bundles several sub-courses in one repository.
type MultiProject struct {
	CourseCode  string
	CourseName  string
	Description string
	Courses     []SubCourse
}

func (Normal) RepoType() RepoType       { return RepoTypeNormal }
func (MultiProject) RepoType() RepoType { return RepoTypeMultiProject }

func (d Normal) Header() Header {
	return Header{CourseCode: d.CourseCode, CourseName: d.CourseName, Description: d.Description}
}

func (d MultiProject) Header() Header {
	return Header{CourseCode: d.CourseCode, CourseName: d.CourseName, Description: d.Description}
}

func (Normal) isDocument()       {}
func (MultiProject) isDocument() {}

// Clone returns a deep copy of doc.
func Clone(doc Document) Document {
	switch d := doc.(type) {
	case Normal:
		d.Sections = cloneSections(d.Sections)
		d.Lecturers = cloneLecturers(d.Lecturers)
		return d
	case MultiProject:
		if d.Courses != nil {
			courses := make([]SubCourse, len(d.Courses))
			for i, c := range d.Courses {
				c.Sections = cloneSections(c.Sections)
				c.Teachers = cloneLecturers(c.Teachers)
				courses[i] = c
			}
			d.Courses = courses
		}
		return d
	default:
		panic("document: unknown variant")
	}
}

func cloneSections(in []Section) []Section {
	if in == nil {
		return nil
	}
	out := make([]Section, len(in))
	for i, s := range in {
		if s.Items != nil {
			items := make([]Item, len(s.Items))
			for j, it := range s.Items {
				it.Authors = cloneAuthors(it.Authors)
				items[j] = it
			}
			s.Items = items
		}
		out[i] = s
	}
	return out
}

func cloneLecturers(in []Lecturer) []Lecturer {
	if in == nil {
		return nil
	}
	out := make([]Lecturer, len(in))
	for i, l := range in {
		if l.Reviews != nil {
			reviews := make([]Review, len(l.Reviews))
			for j, r := range l.Reviews {
				r.Authors = cloneAuthors(r.Authors)
				reviews[j] = r
			}
			l.Reviews = reviews
		}
		out[i] = l
	}
	return out
}

func cloneAuthors(in []Author) []Author {
	if in == nil {
		return nil
	}
	out := make([]Author, len(in))
	copy(out, in)
	return out
}
