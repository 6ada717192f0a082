package storage

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// params is a 10-byte test structure.
type params struct {
	Mode    uint16
	Limit   uint32
	Timeout uint32
}

func (p *params) Size() int { return 10 }

func (p *params) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, 10)
	b = binary.LittleEndian.AppendUint16(b, p.Mode)
	b = binary.LittleEndian.AppendUint32(b, p.Limit)
	b = binary.LittleEndian.AppendUint32(b, p.Timeout)
	return b, nil
}

func (p *params) UnmarshalBinary(b []byte) error {
	if len(b) != 10 {
		return fmt.Errorf("params: got %d bytes", len(b))
	}
	p.Mode = binary.LittleEndian.Uint16(b[0:])
	p.Limit = binary.LittleEndian.Uint32(b[2:])
	p.Timeout = binary.LittleEndian.Uint32(b[6:])
	return nil
}

var defaultParams = params{Mode: 1, Limit: 500, Timeout: 100}

const testTag = 0xC0FFEE01

func newTestManager(t *testing.T, medium Medium, tagged bool) (*Manager, *params) {
	t.Helper()
	live := defaultParams
	regions := Layout(0,
		Region{Name: "params", Reserved: 32, Tagged: tagged, Payload: &live},
	)
	mgr, err := NewManager(medium, regions, Config{OwnerTag: testTag})
	require.NoError(t, err)
	return mgr, &live
}

func TestNewManagerValidatesTable(t *testing.T) {
	medium := NewMemMedium(64)

	tests := []struct {
		name    string
		regions []Region
		tag     uint32
		want    error
	}{
		{
			name:    "block larger than reservation",
			regions: []Region{{Name: "a", Reserved: 13, Tagged: true, Payload: &params{}}},
			tag:     testTag,
			want:    ErrOutOfMemory,
		},
		{
			name:    "reservations exceed medium",
			regions: Layout(0, Region{Name: "a", Reserved: 40, Payload: &params{}}, Region{Name: "b", Reserved: 40, Payload: &params{}}),
			tag:     testTag,
			want:    ErrOutOfMemory,
		},
		{
			name: "overlap",
			regions: []Region{
				{Name: "a", Start: 0, Reserved: 20, Payload: &params{}},
				{Name: "b", Start: 10, Reserved: 20, Payload: &params{}},
			},
			tag:  testTag,
			want: ErrRegionOverlap,
		},
		{
			name:    "duplicate name",
			regions: Layout(0, Region{Name: "a", Reserved: 16, Payload: &params{}}, Region{Name: "a", Reserved: 16, Payload: &params{}}),
			tag:     testTag,
			want:    ErrIllegalArgument,
		},
		{
			name:    "zero owner tag",
			regions: []Region{{Name: "a", Reserved: 16, Payload: &params{}}},
			tag:     0,
			want:    ErrIllegalArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(medium, tt.regions, Config{OwnerTag: tt.tag})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, tagged := range []bool{true, false} {
		t.Run(fmt.Sprintf("tagged=%v", tagged), func(t *testing.T) {
			medium := NewMemMedium(64)
			mgr, live := newTestManager(t, medium, tagged)

			require.NoError(t, mgr.Load("params"))
			live.Limit = 750
			require.NoError(t, mgr.Save("params"))

			// Fresh manager on the same medium, as after a power cycle.
			mgr2, live2 := newTestManager(t, medium, tagged)
			require.NoError(t, mgr2.Load("params"))
			assert.Equal(t, uint32(750), live2.Limit)
			assert.Equal(t, defaultParams.Mode, live2.Mode)
		})
	}
}

func TestLoadEmptyMediumYieldsDefaults(t *testing.T) {
	for _, tagged := range []bool{true, false} {
		medium := NewMemMedium(64)
		mgr, live := newTestManager(t, medium, tagged)
		require.NoError(t, mgr.Load("params"))
		assert.Equal(t, defaultParams, *live)
		assert.Zero(t, medium.Writes())
	}
}

func TestSaveIsIdempotent(t *testing.T) {
	medium := NewMemMedium(64)
	mgr, live := newTestManager(t, medium, true)
	live.Timeout = 42

	require.NoError(t, mgr.Save("params"))
	require.Equal(t, 1, medium.Writes())

	require.NoError(t, mgr.Save("params"))
	assert.Equal(t, 1, medium.Writes(), "second save of unchanged data must not write")

	live.Timeout = 43
	require.NoError(t, mgr.Save("params"))
	assert.Equal(t, 2, medium.Writes())
}

func TestLoadCRCMismatch(t *testing.T) {
	for _, tagged := range []bool{true, false} {
		t.Run(fmt.Sprintf("tagged=%v", tagged), func(t *testing.T) {
			medium := NewMemMedium(64)
			mgr, live := newTestManager(t, medium, tagged)
			require.NoError(t, mgr.Load("params"))
			live.Limit = 999
			require.NoError(t, mgr.Save("params"))

			region, _ := mgr.Region("params")
			medium.Corrupt(region.payloadOffset() + 1)

			live.Limit = 123
			err := mgr.Load("params")
			assert.ErrorIs(t, err, ErrCRC)
			assert.Equal(t, uint32(123), live.Limit, "live payload must stay untouched")

			require.NoError(t, mgr.Load("params"))
			assert.Equal(t, defaultParams, *live, "invalidated block must load defaults")
		})
	}
}

func TestRestoreThenLoadYieldsDefaults(t *testing.T) {
	for _, tagged := range []bool{true, false} {
		t.Run(fmt.Sprintf("tagged=%v", tagged), func(t *testing.T) {
			medium := NewMemMedium(64)
			mgr, live := newTestManager(t, medium, tagged)
			require.NoError(t, mgr.Load("params"))

			live.Mode = 7
			require.NoError(t, mgr.Save("params"))

			require.NoError(t, mgr.Restore("params"))
			assert.Equal(t, uint16(7), live.Mode, "restore must not touch live payload")

			require.NoError(t, mgr.Load("params"))
			assert.Equal(t, defaultParams, *live)
		})
	}
}

func TestSaveAfterRestoreWrites(t *testing.T) {
	medium := NewMemMedium(64)
	mgr, live := newTestManager(t, medium, true)
	live.Mode = 3
	require.NoError(t, mgr.Save("params"))
	require.NoError(t, mgr.Restore("params"))
	writes := medium.Writes()

	require.NoError(t, mgr.Save("params"))
	assert.Equal(t, writes+1, medium.Writes())
}

func TestForeignTagYieldsDefaults(t *testing.T) {
	medium := NewMemMedium(64)
	live := params{Mode: 9, Limit: 9, Timeout: 9}
	other, err := NewManager(medium, Layout(0, Region{Name: "params", Reserved: 32, Tagged: true, Payload: &live}),
		Config{OwnerTag: 0x12345678})
	require.NoError(t, err)
	require.NoError(t, other.Save("params"))

	mgr, mine := newTestManager(t, medium, true)
	require.NoError(t, mgr.Load("params"))
	assert.Equal(t, defaultParams, *mine)
}

func TestEraseFillsReservationInChunks(t *testing.T) {
	medium := NewMemMedium(64)
	live := defaultParams
	mgr, err := NewManager(medium, Layout(0, Region{Name: "params", Reserved: 32, Payload: &live}),
		Config{OwnerTag: testTag, EraseChunk: 8})
	require.NoError(t, err)
	require.NoError(t, mgr.Save("params"))
	before := medium.Writes()

	require.NoError(t, mgr.Erase("params"))
	assert.Equal(t, before+4, medium.Writes())
	for i, b := range medium.Bytes()[:32] {
		require.Equal(t, byte(ErasedByte), b, "byte %d", i)
	}

	require.NoError(t, mgr.Load("params"))
	assert.Equal(t, defaultParams, live)
}

func TestWriteFailureIsDataCorrupt(t *testing.T) {
	medium := NewMemMedium(64)
	mgr, live := newTestManager(t, medium, false)
	live.Mode = 5
	medium.FailWrites = true

	assert.ErrorIs(t, mgr.Save("params"), ErrDataCorrupt)
	assert.ErrorIs(t, mgr.Restore("params"), ErrDataCorrupt)
	assert.ErrorIs(t, mgr.Erase("params"), ErrDataCorrupt)
}

func TestUnknownRegion(t *testing.T) {
	mgr, _ := newTestManager(t, NewMemMedium(64), false)
	assert.ErrorIs(t, mgr.Load("nope"), ErrUnknownRegion)
	assert.ErrorIs(t, mgr.Save("nope"), ErrUnknownRegion)
}

func TestLoadAllJoinsErrors(t *testing.T) {
	medium := NewMemMedium(64)
	a, b := defaultParams, defaultParams
	mgr, err := NewManager(medium, Layout(0,
		Region{Name: "a", Reserved: 16, Payload: &a},
		Region{Name: "b", Reserved: 16, Payload: &b},
	), Config{OwnerTag: testTag})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, mgr.Regions())

	a.Mode, b.Mode = 10, 20
	require.NoError(t, mgr.SaveAll())
	medium.Corrupt(17)

	err = mgr.LoadAll()
	assert.ErrorIs(t, err, ErrCRC)
	assert.Equal(t, uint16(10), a.Mode)
}

func TestOwnerTag(t *testing.T) {
	a := OwnerTag([]byte("build-1"))
	assert.NotZero(t, a)
	assert.Equal(t, a, OwnerTag([]byte("build-1")))
	assert.NotEqual(t, a, OwnerTag([]byte("build-2")))
}

func TestFileMediumPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nvm.bin")

	fm, err := OpenFileMedium(path, 64)
	require.NoError(t, err)
	mgr, live := newTestManager(t, fm, true)
	live.Limit = 31337
	require.NoError(t, mgr.Save("params"))
	require.NoError(t, fm.Close())

	fm2, err := OpenFileMedium(path, 64)
	require.NoError(t, err)
	defer fm2.Close()
	mgr2, live2 := newTestManager(t, fm2, true)
	require.NoError(t, mgr2.Load("params"))
	assert.Equal(t, uint32(31337), live2.Limit)

	_, err = OpenFileMedium(path, 128)
	assert.ErrorIs(t, err, ErrOutOfRange)
}
