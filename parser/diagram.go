package parser

import (
	"encoding/xml"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/brunobiangulo/goextract/container"
)

// maxDiagramDepth bounds the descent through a diagram's point hierarchy.
// Real diagrams are a handful of levels deep.
const maxDiagramDepth = 64

// diagramPoint is one dgm:pt of a SmartArt data model.
type diagramPoint struct {
	id    string
	kind  string
	paras []string
}

type diagramEdge struct {
	dest string
	ord  int
}

// hasText reports whether the point carries user text. Transition and
// presentation points only mirror the layout.
func (p *diagramPoint) hasText() bool {
	switch p.kind {
	case "", "node", "asst":
		return len(p.paras) > 0
	}
	return false
}

// walkDiagram emits the text of a diagram data part. Points are visited
// depth-first from the document point along parOf connections, children in
// srcOrd order; text points that no connection reaches follow in
// declaration order.
func walkDiagram(data []byte, out *PartWriter) error {
	points, edges, err := parseDiagram(data)
	if err != nil {
		return err
	}

	byID := make(map[string]*diagramPoint, len(points))
	for _, p := range points {
		byID[p.id] = p
	}
	for src := range edges {
		sort.SliceStable(edges[src], func(i, j int) bool { return edges[src][i].ord < edges[src][j].ord })
	}

	type frame struct {
		id    string
		depth int
	}
	visited := make(map[string]bool, len(points))
	emit := func(p *diagramPoint) {
		if p.hasText() {
			for _, t := range p.paras {
				out.Text(t)
			}
		}
	}

	for _, root := range points {
		if root.kind != "doc" || visited[root.id] {
			continue
		}
		stack := []frame{{id: root.id}}
		for len(stack) > 0 {
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[f.id] {
				continue
			}
			visited[f.id] = true
			if p, ok := byID[f.id]; ok {
				emit(p)
			}
			if f.depth >= maxDiagramDepth {
				continue
			}
			children := edges[f.id]
			for i := len(children) - 1; i >= 0; i-- {
				if !visited[children[i].dest] {
					stack = append(stack, frame{id: children[i].dest, depth: f.depth + 1})
				}
			}
		}
	}

	for _, p := range points {
		if !visited[p.id] {
			visited[p.id] = true
			emit(p)
		}
	}
	return nil
}

func parseDiagram(data []byte) ([]*diagramPoint, map[string][]diagramEdge, error) {
	dec := container.NewDecoder(data)
	var (
		points []*diagramPoint
		edges  = make(map[string][]diagramEdge)
		cur    *diagramPoint
		para   *strings.Builder
		stack  []string
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, malformed("diagram data", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			switch t.Name.Local {
			case "pt":
				cur = &diagramPoint{id: attr(t, "modelId"), kind: attr(t, "type")}
			case "p":
				if cur != nil {
					para = &strings.Builder{}
				}
			case "br":
				if para != nil {
					para.WriteByte('\n')
				}
			case "cxn":
				kind := attr(t, "type")
				if kind != "" && kind != "parOf" {
					continue
				}
				ord, _ := strconv.Atoi(attr(t, "srcOrd"))
				src := attr(t, "srcId")
				edges[src] = append(edges[src], diagramEdge{dest: attr(t, "destId"), ord: ord})
			}
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			switch t.Name.Local {
			case "pt":
				if cur != nil {
					points = append(points, cur)
					cur = nil
				}
			case "p":
				if cur != nil && para != nil {
					if s := strings.TrimSpace(para.String()); s != "" {
						cur.paras = append(cur.paras, s)
					}
					para = nil
				}
			}
		case xml.CharData:
			if para != nil && len(stack) > 0 && stack[len(stack)-1] == "t" {
				para.Write(t)
			}
		}
	}
	return points, edges, nil
}
