// Package render turns documents into display segments that fit a
// transport's message size budget.
package render

import (
	"fmt"
	"iter"
	"strings"

	"github.com/hitsz-openauto/hoa-pr/internal/document"
)

// Region tags attached to rendered segments.
const (
	TagHeader  = "header"
	TagSection = "section"
	TagCourse  = "course"
	TagLeaf    = "leaf"
	TagNotice  = "notice"
)

const (
	untitledSection = "(未命名章节)"
	untitledCourse  = "(未命名子课程)"
	emptySection    = "（空）"
)

// Segment is one outbound message.
type Segment struct {
	Text      string `json:"text"`
	RegionTag string `json:"region_tag,omitempty"`
}

type block struct {
	title string
	tag   string
	body  string
}

// Render lazily yields the display segments of doc. Every segment is at most
// budget runes long; budget <= 0 disables splitting. The sequence can be
// ranged over any number of times.
func Render(doc document.Document, budget int) iter.Seq[Segment] {
	return func(yield func(Segment) bool) {
		for _, b := range blocks(doc) {
			for _, s := range Chunk(b.title, b.body, b.tag, budget) {
				if !yield(s) {
					return
				}
			}
		}
	}
}

// Chunk splits text into segments of at most budget runes. When text needs
// more than one segment each part is prefixed with "title（i/n）" as long as
// the prefixed part still fits.
func Chunk(title, text, tag string, budget int) []Segment {
	parts := Split(text, budget)
	if len(parts) == 0 {
		return nil
	}
	if len(parts) == 1 {
		return []Segment{{Text: parts[0], RegionTag: tag}}
	}
	out := make([]Segment, 0, len(parts))
	for i, p := range parts {
		text := p
		if title != "" {
			prefixed := fmt.Sprintf("%s（%d/%d）\n\n%s", title, i+1, len(parts), p)
			if budget <= 0 || runeLen(prefixed) <= budget {
				text = prefixed
			}
		}
		out = append(out, Segment{Text: text, RegionTag: tag})
	}
	return out
}

func blocks(doc document.Document) []block {
	switch d := doc.(type) {
	case document.Normal:
		out := []block{{title: "header", tag: TagHeader, body: header(d.CourseName, d.CourseCode, d.Description)}}
		for _, s := range d.Sections {
			out = append(out, sectionBlock(s))
		}
		return out
	case document.MultiProject:
		out := []block{{title: "header", tag: TagHeader, body: header(d.CourseName, d.CourseCode, d.Description)}}
		for _, c := range d.Courses {
			out = append(out, courseBlock(c))
		}
		return out
	default:
		return nil
	}
}

func header(name, code, description string) string {
	label := strings.TrimSpace(name)
	if label == "" {
		label = strings.TrimSpace(code)
	}
	return strings.TrimSpace(fmt.Sprintf("【%s】\n代码：%s\n\n%s", label, strings.TrimSpace(code), normalize(description)))
}

func sectionBlock(s document.Section) block {
	title := strings.TrimSpace(s.Title)
	if title == "" {
		title = untitledSection
	}
	body := strings.Join(itemTexts(s.Items), "\n\n")
	if body == "" {
		body = emptySection
	}
	return block{title: title, tag: TagSection, body: fmt.Sprintf("【%s】\n\n%s", title, body)}
}

func courseBlock(c document.SubCourse) block {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = untitledCourse
	}
	lines := []string{"【子课程：" + name + "】", "代码：" + strings.TrimSpace(c.Code)}

	var names, reviews []string
	for _, t := range c.Teachers {
		if n := strings.TrimSpace(t.Name); n != "" {
			names = append(names, n)
		}
		for _, r := range t.Reviews {
			if text := normalize(r.Content); text != "" {
				reviews = append(reviews, text)
			}
		}
	}
	if len(names) > 0 {
		lines = append(lines, "教师："+strings.Join(names, ", "))
	}
	if len(reviews) > 0 {
		lines = append(lines, "\n教师评价：\n"+strings.Join(reviews, "\n\n"))
	}

	for _, s := range c.Sections {
		title := strings.TrimSpace(s.Title)
		if title == "" {
			title = untitledSection
		}
		if items := itemTexts(s.Items); len(items) > 0 {
			lines = append(lines, "\n["+title+"]\n"+strings.Join(items, "\n\n"))
		}
	}
	return block{title: name, tag: TagCourse, body: strings.Join(lines, "\n")}
}

func itemTexts(items []document.Item) []string {
	var out []string
	for _, it := range items {
		if text := normalize(it.Content); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// RenderSubtree renders the leaf at loc together with its enclosing context.
func RenderSubtree(doc document.Document, loc document.Location, budget int) ([]Segment, error) {
	text, err := document.Resolve(doc, loc)
	if err != nil {
		return nil, err
	}
	title := Describe(doc, loc.Path)
	return Chunk(title, title+"\n\n"+normalize(text), TagLeaf, budget), nil
}

// Describe names the leaf at p for humans, e.g. "章节《考核》第 2 条".
func Describe(doc document.Document, p document.Path) string {
	switch p.Region {
	case document.RegionDescription:
		return "description"
	case document.RegionSectionItem:
		if d, ok := doc.(document.Normal); ok && p.Section < len(d.Sections) {
			return fmt.Sprintf("章节《%s》第 %d 条", d.Sections[p.Section].Title, p.Item+1)
		}
	case document.RegionLecturerReview:
		if d, ok := doc.(document.Normal); ok && p.Lecturer < len(d.Lecturers) {
			return fmt.Sprintf("lecturers《%s》评价#%d", d.Lecturers[p.Lecturer].Name, p.Review+1)
		}
	case document.RegionCourseSectionItem:
		if d, ok := doc.(document.MultiProject); ok && p.Course < len(d.Courses) {
			c := d.Courses[p.Course]
			if p.Section < len(c.Sections) {
				return fmt.Sprintf("子课程《%s》章节《%s》第 %d 条", c.Name, c.Sections[p.Section].Title, p.Item+1)
			}
		}
	case document.RegionCourseTeacherReview:
		if d, ok := doc.(document.MultiProject); ok && p.Course < len(d.Courses) {
			c := d.Courses[p.Course]
			if p.Lecturer < len(c.Teachers) {
				return fmt.Sprintf("子课程《%s》教师《%s》评价#%d", c.Name, c.Teachers[p.Lecturer].Name, p.Review+1)
			}
		}
	}
	return p.String()
}

func normalize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}
