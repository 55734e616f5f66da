package pagination

// Viewport is a scrollable view measured after layout.
type Viewport interface {
	ScrollTop() float64
	ScrollHeight() float64
	ClientHeight() float64
	SetScrollTop(top float64)
}

// Anchor remembers the reader's position before older content is prepended.
type Anchor struct {
	top    float64
	height float64
}

func CaptureAnchor(v Viewport) Anchor {
	return Anchor{top: v.ScrollTop(), height: v.ScrollHeight()}
}

// Restore shifts the offset by the height added since the anchor was
// captured so the previously visible message stays where it was. Call it
// after the new content has been laid out.
func (a Anchor) Restore(v Viewport) {
	v.SetScrollTop(a.top + v.ScrollHeight() - a.height)
}

// AtBottom reports whether the view shows the newest content, allowing
// slack units of rounding.
func AtBottom(v Viewport, slack float64) bool {
	return v.ScrollHeight()-v.ScrollTop()-v.ClientHeight() <= slack
}

func ScrollToBottom(v Viewport) {
	top := v.ScrollHeight() - v.ClientHeight()
	if top < 0 {
		top = 0
	}
	v.SetScrollTop(top)
}

// LineViewport measures a view in text lines.
type LineViewport struct {
	Top    int
	Lines  int
	Height int
}

func (v *LineViewport) ScrollTop() float64 {
	return float64(v.Top)
}

func (v *LineViewport) ScrollHeight() float64 {
	return float64(v.Lines)
}

func (v *LineViewport) ClientHeight() float64 {
	return float64(v.Height)
}

func (v *LineViewport) SetScrollTop(top float64) {
	v.Top = int(top)
}
