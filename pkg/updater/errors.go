package updater

import "fmt"

// InvalidComponentError rejects bad scope input before any runtime call.
type InvalidComponentError struct {
	Name   string
	Reason string
}

func (e *InvalidComponentError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("unknown component %q", e.Name)
	}
	return e.Reason
}

// ConfirmationRequiredError refuses a destructive full-stack update that was
// not explicitly consented to.
type ConfirmationRequiredError struct{}

func (e *ConfirmationRequiredError) Error() string {
	return "a full update stops the whole stack; re-run with --yes to confirm"
}

// MigrationError is fatal to the overall outcome even though the containers
// already run the new version. The operator resolves the schema manually;
// the engine never downgrades automatically.
type MigrationError struct {
	Err error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("schema migration failed, containers are on the new version but the schema is not: %v", e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}
