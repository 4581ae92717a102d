// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package attr_test

import (
	"testing"

	"github.com/hallski/gossip-sub001/internal/attr"
)

func TestRandomLen(t *testing.T) {
	for _, n := range []int{1, 2, 7, 16, 33} {
		if id := attr.RandomLen(n); len(id) != n {
			t.Errorf("wrong length for RandomLen(%d): %q", n, id)
		}
	}
	if attr.RandomID() == attr.RandomID() {
		t.Errorf("consecutive random IDs matched")
	}
}

func TestSerial(t *testing.T) {
	s := attr.NewSerial("ft_")
	if id := s.Next(); id != "ft_1" {
		t.Errorf("wrong first ID: %q", id)
	}
	if id := s.Next(); id != "ft_2" {
		t.Errorf("wrong second ID: %q", id)
	}
}
