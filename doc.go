// Package authgate implements session-backed account management: signup
// with email verification, login that binds a JWT access/refresh pair to
// a server-side session, password reset with an emailed link plus OTP,
// email change, and profile maintenance.
//
// The Engine holds the flows; HTTP wiring lives in SessionAuthenticator
// and AuthController, sessions in the session subpackage.
package authgate
