// Package scope guards the boundary between the platform console and tenant
// work surfaces.
//
// Every route classifies into exactly one scope by longest prefix match,
// with public as the fallback. Within most scopes a tab navigates freely;
// the system/organization boundary is different. Crossing it requires an
// entry intent: a tab-scoped, single-use token minted by a deliberate
// "enter" action and dead thirty seconds later. URL edits, stale bookmarks
// and background tabs have no intent, so they bounce.
//
// Intents are consumed synchronously inside the access check. There is no
// window where a checked-but-unconsumed intent could authorize a second
// navigation.
package scope
