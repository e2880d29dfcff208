// Package providers holds the HTTP plumbing shared by the advertising
// platform adapters in its subpackages.
package providers
