package mp4

import "testing"

func box(boxType string) Box {
	return Box{Length: HeaderSize, Type: boxType}
}

func TestAssembler_PairingRule(t *testing.T) {
	a := NewAssembler(4)

	for _, typ := range []string{"ftyp", "moov", "moof", "mdat", "moof", "mdat"} {
		a.Add(box(typ))
	}
	a.Close()

	var segs []Segment
	for s := range a.Segments() {
		segs = append(segs, s)
	}

	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segs))
	}

	if !segs[0].IsInit() {
		t.Error("first segment should be the init segment")
	}
	if segs[0].Boxes[0].Type != "ftyp" || segs[0].Boxes[1].Type != "moov" {
		t.Errorf("init segment boxes = %v", segTypes(segs[0]))
	}

	for i, s := range segs[1:] {
		if s.Boxes[0].Type != "moof" || s.Boxes[1].Type != "mdat" {
			t.Errorf("media segment %d boxes = %v", i, segTypes(s))
		}
	}
}

func TestAssembler_NeverStartsWithBareData(t *testing.T) {
	a := NewAssembler(4)

	for _, typ := range []string{"ftyp", "moov", "moof", "mdat"} {
		a.Add(box(typ))
	}
	a.Close()

	for s := range a.Segments() {
		first := s.Boxes[0].Type
		if first != BoxTypeFileType && first != BoxTypeFragment {
			t.Errorf("segment starts with %q, want ftyp or moof", first)
		}
	}
}

func TestAssembler_IncompleteGroupDiscarded(t *testing.T) {
	a := NewAssembler(4)

	a.Add(box("ftyp"))
	a.Add(box("moov"))
	a.Add(box("moof")) // no mdat before end-of-stream
	a.Close()

	count := 0
	for range a.Segments() {
		count++
	}
	if count != 1 {
		t.Errorf("expected incomplete trailing group to be discarded, got %d segments", count)
	}
}

func TestAssembler_CancelUnblocksFlush(t *testing.T) {
	a := NewAssembler(0) // unbuffered: flush blocks until consumed or canceled

	flushed := make(chan struct{})
	go func() {
		a.Add(box("moof"))
		a.Add(box("mdat")) // blocks: nobody is reading
		close(flushed)
	}()

	a.Cancel()
	<-flushed
}

func segTypes(s Segment) []string {
	var types []string
	for _, b := range s.Boxes {
		types = append(types, b.Type)
	}
	return types
}
