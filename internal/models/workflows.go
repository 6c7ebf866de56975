package models

// InputShape describes which request fields a workflow consumes.
type InputShape int

const (
	InputSingleImage InputShape = iota
	InputDualImage
	InputImageStory
)

// Workflow is a hosted generation pipeline with a fixed credit cost.
type Workflow struct {
	Slug  string
	App   string
	Cost  int
	Shape InputShape
}

// Workflows is the catalog exposed as POST /api/run-fal-<slug>.
var Workflows = []Workflow{
	{Slug: "dual-selfie", App: "workflows/msai/dual-selfie", Cost: 15, Shape: InputDualImage},
	{Slug: "expressions-video", App: "workflows/msai/expressions-video", Cost: 100, Shape: InputSingleImage},
	{Slug: "mood-today", App: "workflows/msai/mood-today", Cost: 15, Shape: InputSingleImage},
	{Slug: "10-expression", App: "workflows/msai/10-expression", Cost: 30, Shape: InputSingleImage},
	{Slug: "popcorn-on-steroids", App: "workflows/msai/popcorn-on-steroids", Cost: 50, Shape: InputImageStory},
}

// WorkflowBySlug looks up a catalog entry.
func WorkflowBySlug(slug string) (Workflow, bool) {
	for _, wf := range Workflows {
		if wf.Slug == slug {
			return wf, true
		}
	}
	return Workflow{}, false
}
