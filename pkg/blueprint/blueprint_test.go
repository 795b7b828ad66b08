package blueprint

import "testing"

func TestTree_AddChild_NamespacePaths(t *testing.T) {
	tree := NewTree()
	root := tree.Root()

	doc := tree.AddChild(root, "DocProducer")
	if got := tree.At(doc).NamespacePath; len(got) != 1 || got[0] != "DocProducer" {
		t.Fatalf("got namespace path %v, want [DocProducer]", got)
	}

	segs := tree.AddChild(doc, "Segments")
	want := []string{"DocProducer", "Segments"}
	got := tree.At(segs).NamespacePath
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	if tree.At(doc).Children["Segments"] != segs {
		t.Errorf("parent's child alias map not updated")
	}
	if tree.At(segs).Parent != doc {
		t.Errorf("child's parent index not set")
	}
}

func TestTree_Root(t *testing.T) {
	tree := NewTree()
	if tree.Root() != 0 {
		t.Errorf("expected root at index 0")
	}
	if tree.At(tree.Root()).Parent != NoNode {
		t.Errorf("expected root to have NoNode parent")
	}
}
