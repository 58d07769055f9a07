// Package app composes the turn engine and its collaborators from
// configuration.
//
// It owns the order in which collaborators are built: rule data first, then
// the state store and the services that mutate it, then the effect resolver
// and finally the turn engine that binds itself to the resolver.
package app
