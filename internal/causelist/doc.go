// Package causelist defines the domain types, sentinel errors, and collaborator
// interfaces shared by the scraping, searching, and queueing subsystems.
package causelist
