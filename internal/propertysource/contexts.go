// Package propertysource turns secrets read from the generic backend into
// an ordered set of flat properties.
//
// An application reads one secret per context. Contexts are built from the
// default context and the application names, each optionally suffixed with
// an active profile. The first context in the list has the highest
// precedence: a key defined there hides the same key in later contexts.
package propertysource

import (
	"slices"
	"strings"

	"github.com/systmms/vaultconfig/internal/config"
)

// Contexts lists the secret paths to read for the active profiles, highest
// precedence first.
//
// For application "testVaultApp", profile "my-profile" and default context
// "application" the result is:
//
//	testVaultApp/my-profile
//	testVaultApp
//	application/my-profile
//	application
//
// With several profiles the later profile wins, matching the order in
// which profiles are activated.
func Contexts(generic config.GenericProperties, profiles []string) []string {
	sep := generic.ProfileSeparator
	if sep == "" {
		sep = "/"
	}

	var bases []string
	if dc := strings.Trim(generic.DefaultContext, "/"); dc != "" {
		bases = append(bases, dc)
	}
	for _, name := range generic.ApplicationNames() {
		name = strings.Trim(name, "/")
		if name != "" && !slices.Contains(bases, name) {
			bases = append(bases, name)
		}
	}

	var contexts []string
	add := func(c string) {
		if !slices.Contains(contexts, c) {
			contexts = append(contexts, c)
		}
	}
	for _, base := range bases {
		add(base)
		for _, profile := range profiles {
			if profile = strings.TrimSpace(profile); profile != "" {
				add(base + sep + profile)
			}
		}
	}

	slices.Reverse(contexts)
	return contexts
}
