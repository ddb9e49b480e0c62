package model

import "sort"

// Directory is the ordered chat collection: keyed by id, most recent
// activity first. It is not safe for concurrent use; the session store
// owns it under single-writer discipline.
type Directory struct {
	chats []*Chat
	index map[string]*Chat
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{index: make(map[string]*Chat)}
}

// Replace swaps the whole directory for a fresh listing.
func (d *Directory) Replace(chats []*Chat) {
	d.chats = make([]*Chat, 0, len(chats))
	d.index = make(map[string]*Chat, len(chats))
	for _, c := range chats {
		if _, dup := d.index[c.ID]; dup {
			continue
		}
		d.chats = append(d.chats, c)
		d.index[c.ID] = c
	}
	d.sort()
}

// Get returns the chat with the given id, or nil.
func (d *Directory) Get(id string) *Chat {
	return d.index[id]
}

// Put inserts a chat or replaces an existing entry, then restores ordering.
func (d *Directory) Put(c *Chat) {
	if existing, ok := d.index[c.ID]; ok {
		for i, cur := range d.chats {
			if cur == existing {
				d.chats[i] = c
				break
			}
		}
	} else {
		d.chats = append(d.chats, c)
	}
	d.index[c.ID] = c
	d.sort()
}

// Remove deletes a chat from the directory. Unknown ids are a no-op.
func (d *Directory) Remove(id string) {
	existing, ok := d.index[id]
	if !ok {
		return
	}
	delete(d.index, id)
	for i, c := range d.chats {
		if c == existing {
			d.chats = append(d.chats[:i], d.chats[i+1:]...)
			break
		}
	}
}

// Touch re-sorts the directory after an in-place mutation of one entry.
func (d *Directory) Touch() {
	d.sort()
}

// List returns the ordered chats. The slice is a copy; the entries are not.
func (d *Directory) List() []*Chat {
	out := make([]*Chat, len(d.chats))
	copy(out, d.chats)
	return out
}

// Len returns the number of chats.
func (d *Directory) Len() int {
	return len(d.chats)
}

func (d *Directory) sort() {
	sort.SliceStable(d.chats, func(i, j int) bool {
		return d.chats[i].LastActivity().After(d.chats[j].LastActivity())
	})
}
