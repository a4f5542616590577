package qploader

import "github.com/qploader/qploader/internal/resolve"

// ProjectQuery answers lookups over a resolved Project, adapted from the
// teacher's QueryBuilder (product/symbol lookups over an indexed
// codebase) to the build-graph domain: product lookup by name and
// dependency/dependent traversal over the product graph.
type ProjectQuery struct {
	project *resolve.Project
	byName  map[string]*resolve.Product
}

// NewProjectQuery builds a query index over a resolved project.
func NewProjectQuery(project *resolve.Project) *ProjectQuery {
	q := &ProjectQuery{project: project, byName: make(map[string]*resolve.Product)}
	q.indexProject(project)
	return q
}

func (q *ProjectQuery) indexProject(p *resolve.Project) {
	if p == nil {
		return
	}
	for _, prod := range p.Products {
		q.byName[prod.Name] = prod
	}
	for _, sub := range p.SubProjects {
		q.indexProject(sub)
	}
}

// Product looks up a resolved product by name.
func (q *ProjectQuery) Product(name string) (*resolve.Product, bool) {
	p, ok := q.byName[name]
	return p, ok
}

// Products returns every resolved product across the whole project tree.
func (q *ProjectQuery) Products() []*resolve.Product {
	out := make([]*resolve.Product, 0, len(q.byName))
	for _, p := range q.byName {
		out = append(out, p)
	}
	return out
}

// Dependencies returns the products productName directly depends on.
func (q *ProjectQuery) Dependencies(productName string) []*resolve.Product {
	p, ok := q.byName[productName]
	if !ok {
		return nil
	}
	var out []*resolve.Product
	for _, dep := range p.DependencyNames {
		if target, ok := q.byName[dep]; ok {
			out = append(out, target)
		}
	}
	return out
}

// Dependents returns every product that directly depends on productName.
func (q *ProjectQuery) Dependents(productName string) []*resolve.Product {
	var out []*resolve.Product
	for _, p := range q.byName {
		for _, dep := range p.DependencyNames {
			if dep == productName {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
