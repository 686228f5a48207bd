// Package notify delivers issued passcodes.
//
// [EmailSender] sends over SMTP with gomail, [SMSSender] through Twilio, and
// [Router] picks one by the notification channel. [Recorder] keeps messages
// in memory for tests and local runs.
//
// # Architecture boundaries
//
// Senders implement authguard.Notifier and know nothing about records,
// attempts or rate limits. The engine applies the delivery timeout through
// ctx; senders return as soon as ctx ends even if the underlying client call
// is still in flight.
//
// # What this package must NOT do
//
//   - Log or persist plaintext codes.
//   - Retry on its own; a failed send is reported to the engine, which keeps
//     the record and lets the caller resend.
package notify
