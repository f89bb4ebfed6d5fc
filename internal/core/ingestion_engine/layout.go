package ingestion_engine

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/markdave123-py/citedoc/internal/models"
)

const (
	// gaps are measured in multiples of the font size
	wordGap      = 0.15
	cellGap      = 1.5
	paragraphGap = 1.9
	baselineTol  = 0.35

	headingScale    = 1.2
	maxHeadingRunes = 120

	// table cells are mostly short; runs of long cells are column text
	maxCellRunes   = 40
	minShortCells  = 0.7
	columnStartTol = 4.0

	// average glyph advance used when a font carries no width table
	estGlyphWidth = 0.5
)

// glyphRun is a stretch of glyphs drawn contiguously on one baseline.
type glyphRun struct {
	x, y  float64
	end   float64
	size  float64
	text  strings.Builder
	width float64
}

type layoutLine struct {
	y     float64
	size  float64
	cells []string
	cellX []float64 // left edge of each cell; empty for plain text lines
	runes int
}

func (l layoutLine) text() string { return strings.Join(l.cells, " ") }

// pageContent reads positioned glyphs of a page. Decoder panics degrade the page to nothing.
func pageContent(p pdf.Page) (glyphs []pdf.Text, err error) {
	defer func() {
		if r := recover(); r != nil {
			glyphs = nil
			err = fmt.Errorf("decode page content: %v", r)
		}
	}()
	return p.Content().Text, nil
}

// pagePlainText is the fallback used when glyph layout yields nothing.
func pagePlainText(p pdf.Page) string {
	s, err := p.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return s
}

// buildRuns merges glyphs that continue where the previous glyph ended.
func buildRuns(glyphs []pdf.Text) []*glyphRun {
	var (
		runs []*glyphRun
		cur  *glyphRun
	)
	for _, g := range glyphs {
		if g.S == "" {
			continue
		}
		size := g.FontSize
		if size <= 0 {
			size = 10
		}
		if cur != nil &&
			math.Abs(g.Y-cur.y) <= size*0.2 &&
			math.Abs(g.X-cur.end) <= size*wordGap {
			cur.text.WriteString(g.S)
			cur.end = g.X + g.W
			cur.width += g.W
			cur.size = math.Max(cur.size, size)
			continue
		}
		cur = &glyphRun{x: g.X, y: g.Y, end: g.X + g.W, size: size, width: g.W}
		cur.text.WriteString(g.S)
		runs = append(runs, cur)
	}

	out := runs[:0]
	for _, r := range runs {
		if strings.TrimSpace(r.text.String()) == "" {
			continue
		}
		if r.width <= 0 {
			r.end = r.x + float64(utf8.RuneCountInString(r.text.String()))*r.size*estGlyphWidth
		}
		out = append(out, r)
	}
	return out
}

// buildLines groups runs by baseline, top of page first, and splits each line
// into cells wherever the horizontal gap is wide enough to be a column break.
func buildLines(runs []*glyphRun) []layoutLine {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].y != runs[j].y {
			return runs[i].y > runs[j].y
		}
		return runs[i].x < runs[j].x
	})

	var groups [][]*glyphRun
	for _, r := range runs {
		if n := len(groups); n > 0 {
			first := groups[n-1][0]
			if math.Abs(first.y-r.y) <= math.Max(first.size, r.size)*baselineTol {
				groups[n-1] = append(groups[n-1], r)
				continue
			}
		}
		groups = append(groups, []*glyphRun{r})
	}

	lines := make([]layoutLine, 0, len(groups))
	for _, g := range groups {
		sort.SliceStable(g, func(i, j int) bool { return g[i].x < g[j].x })

		line := layoutLine{y: g[0].y}
		var (
			cell      strings.Builder
			cellStart = g[0].x
		)
		flushCell := func() {
			if s := strings.Join(strings.Fields(cell.String()), " "); s != "" {
				line.cells = append(line.cells, s)
				line.cellX = append(line.cellX, cellStart)
				line.runes += utf8.RuneCountInString(s)
			}
			cell.Reset()
		}
		for k, r := range g {
			line.size = math.Max(line.size, r.size)
			if k > 0 {
				gap := r.x - g[k-1].end
				switch {
				case gap >= cellGap*r.size:
					flushCell()
					cellStart = r.x
				case gap > wordGap*r.size:
					cell.WriteByte(' ')
				}
			}
			cell.WriteString(r.text.String())
		}
		flushCell()
		if len(line.cells) > 0 {
			lines = append(lines, line)
		}
	}
	return lines
}

// bodyFontSize is the size carrying the most characters.
func bodyFontSize(pages [][]layoutLine) float64 {
	weight := map[float64]int{}
	for _, lines := range pages {
		for _, l := range lines {
			weight[math.Round(l.size*2)/2] += l.runes
		}
	}
	var (
		best  float64
		bestN int
	)
	for size, n := range weight {
		if n > bestN || (n == bestN && size < best) {
			best, bestN = size, n
		}
	}
	return best
}

// pageLayout turns the lines of one page into text and table elements.
// section carries the last heading across pages.
type pageLayout struct {
	body    float64
	section string
}

func (pl *pageLayout) elements(page int, lines []layoutLine) []models.PageElement {
	var (
		out    []models.PageElement
		para   []string
		prevY  float64
		tables int
	)
	flushPara := func() {
		if len(para) == 0 {
			return
		}
		out = append(out, models.PageElement{
			Page:    page,
			Type:    models.ElementText,
			Content: joinLines(para),
			Section: pl.section,
		})
		para = para[:0]
	}

	for i := 0; i < len(lines); {
		if len(lines[i].cells) >= 2 {
			j := i
			for j < len(lines) && len(lines[j].cells) >= 2 {
				j++
			}
			if j-i >= 2 && !looksTabular(lines[i:j]) {
				flushPara()
				for _, col := range splitColumns(lines[i:j]) {
					out = append(out, models.PageElement{
						Page:    page,
						Type:    models.ElementText,
						Content: joinLines(col),
						Section: pl.section,
					})
				}
				prevY = lines[j-1].y
				i = j
				continue
			}
			if j-i >= 2 {
				flushPara()
				tables++
				out = append(out, models.PageElement{
					Page:    page,
					Type:    models.ElementTable,
					Content: renderTable(lines[i:j]),
					Ref:     fmt.Sprintf("Table %d", tables),
					Section: pl.section,
				})
				prevY = lines[j-1].y
				i = j
				continue
			}
		}

		l := lines[i]
		if pl.isHeading(l) {
			flushPara()
			pl.section = l.text()
			out = append(out, models.PageElement{
				Page:    page,
				Type:    models.ElementText,
				Content: l.text(),
				Section: pl.section,
			})
			prevY = l.y
			i++
			continue
		}

		if len(para) > 0 && prevY-l.y > paragraphGap*l.size {
			flushPara()
		}
		para = append(para, l.text())
		prevY = l.y
		i++
	}
	flushPara()
	return out
}

func (pl *pageLayout) isHeading(l layoutLine) bool {
	if pl.body <= 0 || len(l.cells) != 1 {
		return false
	}
	return l.size >= pl.body*headingScale && l.runes <= maxHeadingRunes
}

// looksTabular tells a table from multi-column prose: table cells are mostly
// short, while column text fills most of every line.
func looksTabular(rows []layoutLine) bool {
	var cells, short int
	for _, r := range rows {
		for _, c := range r.cells {
			cells++
			if utf8.RuneCountInString(c) <= maxCellRunes {
				short++
			}
		}
	}
	return cells > 0 && float64(short) >= minShortCells*float64(cells)
}

// splitColumns regroups multi-column lines into one line sequence per column,
// leftmost column first. Cells join the column whose left edge is nearest.
func splitColumns(rows []layoutLine) [][]string {
	type column struct {
		x     float64
		lines []string
	}
	var cols []*column
	for _, r := range rows {
		tol := columnStartTol * r.size
		for k, c := range r.cells {
			x, t := float64(k), 0.5
			if len(r.cellX) == len(r.cells) {
				x, t = r.cellX[k], tol
			}
			var best *column
			for _, col := range cols {
				if d := math.Abs(col.x - x); d <= t && (best == nil || d < math.Abs(best.x-x)) {
					best = col
				}
			}
			if best == nil {
				best = &column{x: x}
				cols = append(cols, best)
			}
			best.lines = append(best.lines, c)
		}
	}
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].x < cols[j].x })
	out := make([][]string, len(cols))
	for i, col := range cols {
		out[i] = col.lines
	}
	return out
}

// renderTable writes one row per line with cells separated by " | ".
func renderTable(rows []layoutLine) string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = strings.Join(r.cells, " | ")
	}
	return strings.Join(out, "\n")
}

// joinLines reflows wrapped lines, rejoining words hyphenated at a line end.
func joinLines(lines []string) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			prev := lines[i-1]
			if strings.HasSuffix(prev, "-") && len(prev) > 1 && startsLower(l) {
				s := b.String()
				b.Reset()
				b.WriteString(strings.TrimSuffix(s, "-"))
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString(l)
	}
	return b.String()
}

func startsLower(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return r >= 'a' && r <= 'z'
}

var (
	multiSpace = regexp.MustCompile(`\s{3,}`)
	cellSplit  = regexp.MustCompile(`\t+|\s{3,}|\s*\|\s*`)
)

// looksLikeTableRow spots column structure in plain text: tabs, wide space runs or pipes.
func looksLikeTableRow(line string) bool {
	return strings.Count(line, "\t") >= 2 ||
		len(multiSpace.FindAllString(line, -1)) >= 2 ||
		strings.Count(line, "|") >= 2
}

// plainTextLines rebuilds layout lines from text with no positions. Cells come
// from the same separators looksLikeTableRow detects; paragraphs are split on blank lines.
func plainTextLines(text string) []layoutLine {
	var (
		out   []layoutLine
		y     float64
		blank bool
	)
	for _, raw := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(raw) == "" {
			blank = true
			continue
		}
		// a blank line moves the next line far enough down to start a new paragraph
		y -= 1
		if blank {
			y -= paragraphGap + 1
		}
		blank = false

		var cells []string
		if looksLikeTableRow(raw) {
			for _, c := range cellSplit.Split(strings.Trim(strings.TrimSpace(raw), "|"), -1) {
				if c = strings.Join(strings.Fields(c), " "); c != "" {
					cells = append(cells, c)
				}
			}
		} else {
			cells = []string{strings.Join(strings.Fields(raw), " ")}
		}
		if len(cells) == 0 {
			continue
		}
		l := layoutLine{y: y, size: 1, cells: cells}
		for _, c := range cells {
			l.runes += utf8.RuneCountInString(c)
		}
		out = append(out, l)
	}
	return out
}
