package similarity

import "testing"

func TestJaccardIdentical(t *testing.T) {
	sig := NewSignature("Hundreds of demonstrators marched through downtown on Saturday.", DefaultShingleSize)
	if got := Jaccard(sig, sig); got != 1 {
		t.Errorf("Jaccard(x, x) = %f, want 1", got)
	}
}

func TestJaccardIgnoresFormatting(t *testing.T) {
	a := NewSignature("Hundreds of demonstrators marched through downtown.", DefaultShingleSize)
	b := NewSignature("HUNDREDS, of demonstrators... marched through downtown!!", DefaultShingleSize)
	if got := Jaccard(a, b); got != 1 {
		t.Errorf("Jaccard = %f, want 1 after punctuation stripping", got)
	}
}

func TestJaccardDisjoint(t *testing.T) {
	a := NewSignature("completely unrelated text about gardening tips", DefaultShingleSize)
	b := NewSignature("quarterly earnings exceeded analyst expectations", DefaultShingleSize)
	if got := Jaccard(a, b); got > 0.1 {
		t.Errorf("Jaccard = %f, want near 0", got)
	}
}

func TestOrderGroupsSimilarTexts(t *testing.T) {
	wire := "Hundreds of demonstrators marched through downtown Springfield on Saturday to protest the ordinance, organizers said."
	texts := []string{
		wire,
		"City council approves the annual parks budget after a lengthy debate over funding priorities this fiscal year.",
		wire + " The crowd dispersed peacefully by early evening, police reported.",
	}
	order := Order(texts)
	if len(order) != 3 {
		t.Fatalf("len(order) = %d", len(order))
	}
	if order[0] != 0 {
		t.Errorf("route must start at first document, got %d", order[0])
	}
	if order[1] != 2 {
		t.Errorf("syndicated copy should follow its original, got order %v", order)
	}
}

func TestOrderEmpty(t *testing.T) {
	if got := Order(nil); got != nil {
		t.Errorf("Order(nil) = %v, want nil", got)
	}
}
