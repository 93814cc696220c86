// Package pagecache keeps rendered pages in memory under a byte budget.
//
// Entries are evicted least recently used first. An insert that would exceed
// the budget evicts until the new entry fits; a single entry larger than the
// whole budget is still admitted as the sole resident so oversized pages are
// never starved. All operations share one mutex and only touch map and list
// pointers inside it; pixel data is never copied under the lock.
package pagecache
