// Package inspect implements the ordered inspection pipeline that every
// proxied request passes before reaching the upstream backend.
package inspect

import "fmt"

// Violation is the typed rejection produced by identity resolution or by any
// inspector. Status maps directly onto the HTTP response code; Inspector
// names the stage for audit events and metrics.
type Violation struct {
	Status    int
	Detail    string
	Inspector string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s (status %d)", v.Inspector, v.Detail, v.Status)
}

// NewViolation builds a Violation for the named inspector.
func NewViolation(inspector string, status int, detail string) *Violation {
	return &Violation{Status: status, Detail: detail, Inspector: inspector}
}
