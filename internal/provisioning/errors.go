package provisioning

import "fmt"

// ValidationError reports an unmet precondition. It is always fatal and
// never retried; where a remediation command exists it is included in the
// diagnostic.
type ValidationError struct {
	Check       string
	Detail      string
	Remediation string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("validation failed (%s): %s", e.Check, e.Detail)
	if e.Remediation != "" {
		msg += fmt.Sprintf("\n  try: %s", e.Remediation)
	}
	return msg
}

// SubmissionError reports a synchronous rejection of the template-creation
// request. The provider's message is surfaced verbatim.
type SubmissionError struct {
	Message string
}

func (e *SubmissionError) Error() string {
	return "template creation rejected: " + e.Message
}

// OperationFailedError reports an asynchronous creation operation that did
// not reach its terminal status within the wait budget.
type OperationFailedError struct {
	Operation   string
	Remediation string
}

func (e *OperationFailedError) Error() string {
	return fmt.Sprintf("operation %q did not complete in time\n  inspect with: %s", e.Operation, e.Remediation)
}
