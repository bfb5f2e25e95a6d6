package e2e

import "testing"

func TestBuildCorpus(t *testing.T) {
	c := BuildCorpus()
	names := make(map[string]string)
	for _, f := range c.Fixtures {
		if _, dup := names[f.Name]; dup {
			t.Errorf("duplicate fixture %q", f.Name)
		}
		names[f.Name] = f.Owner
		for _, o := range f.Objects {
			if err := o.BBox.Validate(); err != nil {
				t.Errorf("fixture %q: %v", f.Name, err)
			}
		}
	}
	vectors := TextVectors()
	for _, q := range c.Queries {
		if _, ok := vectors[q.Text]; !ok {
			t.Errorf("query %q: no text vector for %q", q.Name, q.Text)
		}
		for _, want := range q.WantTop {
			if owner, ok := names[want]; !ok || owner != q.Owner {
				t.Errorf("query %q expects %q, which is not a fixture of %q", q.Name, want, q.Owner)
			}
		}
	}
	if got := c.Owners(); len(got) != 2 {
		t.Errorf("Owners() = %v", got)
	}
}
