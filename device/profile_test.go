package device

import "testing"

func profiles(specs ...[3]uint) []StreamProfile {
	var out []StreamProfile
	for _, s := range specs {
		out = append(out, StreamProfile{Width: s[0], Height: s[1], FPS: s[2]})
	}
	return out
}

func TestSortProfiles_Deterministic(t *testing.T) {
	p := profiles(
		[3]uint{1280, 720, 30},
		[3]uint{3840, 2160, 30},
		[3]uint{1920, 1080, 15},
		[3]uint{1920, 1080, 30},
	)
	SortProfiles(p)

	want := [][3]uint{
		{3840, 2160, 30},
		{1920, 1080, 30},
		{1920, 1080, 15},
		{1280, 720, 30},
	}
	for i, w := range want {
		if p[i].Width != w[0] || p[i].Height != w[1] || p[i].FPS != w[2] {
			t.Errorf("position %d = %dx%d@%d, want %dx%d@%d",
				i, p[i].Width, p[i].Height, p[i].FPS, w[0], w[1], w[2])
		}
	}
}

func TestSelectExact_ExactMatch(t *testing.T) {
	p := profiles([3]uint{3840, 2160, 30}, [3]uint{1920, 1080, 30}, [3]uint{1280, 720, 30})

	got := SelectExact(p, 1920, 1080, 30)
	if got == nil || got.Width != 1920 || got.Height != 1080 {
		t.Fatalf("got %+v, want exact 1920x1080@30", got)
	}
}

func TestSelectExact_NextSizeDown(t *testing.T) {
	p := profiles([3]uint{3840, 2160, 30}, [3]uint{1280, 720, 30})

	got := SelectExact(p, 1920, 1080, 30)
	if got == nil || got.Width != 1280 {
		t.Fatalf("got %+v, want 1280x720 as next size down", got)
	}
}

func TestSelectExact_FallbackToLowest(t *testing.T) {
	p := profiles([3]uint{1920, 1080, 30}, [3]uint{1280, 720, 30})

	got := SelectExact(p, 640, 480, 30)
	if got == nil || got.Width != 1280 || got.Height != 720 {
		t.Fatalf("got %+v, want lowest available 1280x720@30", got)
	}
}

func TestSelectHighest(t *testing.T) {
	p := profiles([3]uint{1280, 720, 30}, [3]uint{3840, 2160, 30}, [3]uint{1920, 1080, 30})

	got := SelectHighest(p)
	if got == nil || got.Width != 3840 {
		t.Fatalf("got %+v, want 3840x2160", got)
	}
}

func TestSelect_EmptyProfiles(t *testing.T) {
	if SelectExact(nil, 1920, 1080, 30) != nil {
		t.Error("SelectExact(nil) should be nil")
	}
	if SelectHighest(nil) != nil {
		t.Error("SelectHighest(nil) should be nil")
	}
}

func TestHints_PackageCameraFlashlight(t *testing.T) {
	pkg := NewDevice("d1", "porch", KindPackageCamera, Capabilities{}, nil)
	if !pkg.Hints().Flashlight {
		t.Error("package camera should hint flashlight")
	}

	cam := NewDevice("d2", "yard", KindCamera, Capabilities{}, nil)
	if cam.Hints().Flashlight {
		t.Error("plain camera should not hint flashlight")
	}
}
