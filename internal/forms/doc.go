// Package forms implements the site's two intake endpoints, POST /api/contact and
// POST /api/subscribe.
//
// A submission passes through the honeypot, field validation and the per-client
// admission limiter before it is handed to a [Sink]. Bots that fill the hidden
// company_name field get the normal success response and nothing is recorded.
package forms
