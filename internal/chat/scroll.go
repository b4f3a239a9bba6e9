package chat

// DefaultScrollThreshold is the distance from the bottom, in pixel-equivalent
// units, under which new messages scroll into view automatically
const DefaultScrollThreshold = 150.0

// ScrollController decides between auto-scrolling to the newest message and
// offering a "jump to latest" affordance
type ScrollController struct {
	threshold float64
	distance  float64
	armed     bool
	showJump  bool
}

// NewScrollController creates a controller that starts pinned to the bottom
func NewScrollController(threshold float64) *ScrollController {
	if threshold <= 0 {
		threshold = DefaultScrollThreshold
	}
	return &ScrollController{threshold: threshold, armed: true}
}

// Observe records a user scroll that left the viewport distance units from the bottom
func (s *ScrollController) Observe(distance float64) {
	if distance < 0 {
		distance = 0
	}
	s.distance = distance
	if distance < s.threshold {
		s.armed = true
		s.showJump = false
		return
	}
	s.armed = false
	s.showJump = true
}

// OnMutation is called after every change to the message list and reports
// whether the view should scroll to the newest message
func (s *ScrollController) OnMutation() bool {
	if s.armed {
		s.distance = 0
		return true
	}
	s.showJump = true
	return false
}

// JumpToLatest handles the explicit user action; the caller scrolls to the bottom
func (s *ScrollController) JumpToLatest() {
	s.distance = 0
	s.armed = true
	s.showJump = false
}

// Armed reports whether auto-scroll is active
func (s *ScrollController) Armed() bool {
	return s.armed
}

// ShowJumpAffordance reports whether the "jump to latest" control should be visible
func (s *ScrollController) ShowJumpAffordance() bool {
	return s.showJump
}

// Distance returns the last observed distance from the bottom
func (s *ScrollController) Distance() float64 {
	return s.distance
}
