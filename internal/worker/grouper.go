package worker

import "github.com/notifyhub/formsync/internal/domain"

// Grouping is the result of partitioning a page of pending items.
type Grouping struct {
	// Groups maps destination key to items in selection order.
	Groups map[string][]*domain.QueueItem
	// Order lists destination keys in the order they were first seen.
	Order []string
	// Unrouted items have no destination key and are never submitted.
	Unrouted []*domain.QueueItem
}

// Group partitions items by destination key. It performs no I/O and keeps the
// relative order of items within each group.
func Group(items []*domain.QueueItem) Grouping {
	g := Grouping{Groups: make(map[string][]*domain.QueueItem)}
	for _, item := range items {
		key := item.Settings.DestinationKey()
		if key == "" {
			g.Unrouted = append(g.Unrouted, item)
			continue
		}
		if _, seen := g.Groups[key]; !seen {
			g.Order = append(g.Order, key)
		}
		g.Groups[key] = append(g.Groups[key], item)
	}
	return g
}
