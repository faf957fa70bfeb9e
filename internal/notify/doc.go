// Package notify renders and delivers strike notifications over SMTP.
//
// Rendering and delivery are split: templates produce a plain message
// value, and a Sender delivers it. The default Sender speaks SMTP via
// go-mail; tests swap in a capturing fake. Notification failures are
// always recoverable for callers, the strike itself is already
// recorded by the time mail goes out.
package notify
