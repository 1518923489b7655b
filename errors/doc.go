// Package errors implements the error taxonomy shared by every
// machine-health component.
//
// # Classification
//
// Three classes drive how the consume loop treats a failed event:
//
//   - transient: the operation may succeed on retry (connection lost,
//     sink unavailable). Events are redelivered.
//   - invalid: the input itself is malformed (missing device identity,
//     ambiguous payload shape, non-finite samples). Retrying cannot
//     help, so the event is acknowledged and discarded after logging.
//   - fatal: configuration or programming errors that should abort
//     startup rather than be handled per event.
//
// # Usage
//
//	if err := sink.Write(ctx, record); err != nil {
//	    return errors.WrapTransient(err, "influx-output", "Write", "point write")
//	}
//
// Callers branch on class, never on message text:
//
//	if errors.IsInvalid(err) {
//	    // consume the event, log, move on
//	}
package errors
