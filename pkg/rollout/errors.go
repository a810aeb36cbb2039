package rollout

import "fmt"

// BuildError aborts a component before any running instance is touched.
type BuildError struct {
	Component string
	Err       error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("building %s: %v", e.Component, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// DetectionTimeoutError means the runtime never reported the extra instance
// requested by scale-up. The component is deliberately left at the raised
// count so an operator can inspect it.
type DetectionTimeoutError struct {
	Component string
}

func (e *DetectionTimeoutError) Error() string {
	return fmt.Sprintf("%s: new instance never appeared after scale-up", e.Component)
}

// HealthTimeoutError means the replacement instance never became healthy.
// The previous instances keep serving; nothing was retired.
type HealthTimeoutError struct {
	Component  string
	InstanceID string
}

func (e *HealthTimeoutError) Error() string {
	return fmt.Sprintf("%s: instance %s did not become healthy in time", e.Component, e.InstanceID)
}
