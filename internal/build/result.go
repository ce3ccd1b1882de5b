package build

// Result is the outcome of building an agent image. A non-empty Image means
// success; otherwise Message carries the compile diagnostic.
type Result struct {
	CodeID  string `json:"code_id"`
	Image   string `json:"image"`
	Message string `json:"message"`
}

// OK reports whether the build produced an image.
func (r Result) OK() bool {
	return r.Image != ""
}
