package persistence

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinwag/CANopenNode/pkg/lss"
	"github.com/martinwag/CANopenNode/pkg/od"
	"github.com/martinwag/CANopenNode/pkg/storage"
)

type paramFixture struct {
	medium *storage.MemMedium
	mgr    *storage.Manager
	dict   *od.Dictionary
	store  *ParameterStore
}

func newParamFixture(t *testing.T) *paramFixture {
	t.Helper()
	dict, err := od.NewStandard(od.StandardConfig{
		Identity:    lss.Address{VendorID: 1, ProductCode: 2, RevisionNumber: 3, SerialNumber: 4},
		HeartbeatMs: 1000,
		AppParams:   2,
	})
	require.NoError(t, err)

	medium := storage.NewMemMedium(256)
	regions := storage.Layout(0,
		storage.Region{Name: od.GroupComm, Reserved: 32, Tagged: true, Payload: dict.Group(od.GroupComm)},
		storage.Region{Name: od.GroupApp, Reserved: 32, Tagged: true, Payload: dict.Group(od.GroupApp)},
	)
	mgr, err := storage.NewManager(medium, regions, storage.Config{OwnerTag: testOwner})
	require.NoError(t, err)
	require.NoError(t, mgr.LoadAll())

	store, err := NewParameterStore(mgr, nil)
	require.NoError(t, err)
	require.NoError(t, store.Register(dict))
	return &paramFixture{medium: medium, mgr: mgr, dict: dict, store: store}
}

func signature(v uint32) []byte { return binary.LittleEndian.AppendUint32(nil, v) }

func TestSignatureValues(t *testing.T) {
	assert.Equal(t, SignatureSave, binary.LittleEndian.Uint32([]byte("save")))
	assert.Equal(t, SignatureLoad, binary.LittleEndian.Uint32([]byte("load")))
}

func TestStoreParametersRequiresSignature(t *testing.T) {
	f := newParamFixture(t)

	err := f.store.StoreParameters(SignatureLoad)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	err = f.store.RestoreDefaults(SignatureSave)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Zero(t, f.medium.Writes(), "storage is not touched")

	require.NoError(t, f.store.StoreParameters(SignatureSave))
	assert.Equal(t, 2, f.medium.Writes())
}

func TestStoreRestoreThroughDictionary(t *testing.T) {
	f := newParamFixture(t)
	require.NoError(t, f.dict.SetUint16(od.IndexProducerHeartbeat, 0, 250))

	assert.Equal(t, od.AbortDataTransfer, f.dict.Write(od.IndexStoreParameters, 1, []byte("nope")))
	assert.Zero(t, f.medium.Writes())

	require.NoError(t, f.dict.Write(od.IndexStoreParameters, 1, []byte("save")))
	assert.Equal(t, 2, f.medium.Writes())

	// Restore only takes effect on the next load.
	require.NoError(t, f.dict.Write(od.IndexRestoreDefaults, 1, signature(SignatureLoad)))
	hb, _ := f.dict.Uint16(od.IndexProducerHeartbeat, 0)
	assert.Equal(t, uint16(250), hb)

	require.NoError(t, f.mgr.Load(od.GroupComm))
	hb, _ = f.dict.Uint16(od.IndexProducerHeartbeat, 0)
	assert.Equal(t, uint16(1000), hb)
}

func TestStorePerRegionSubindex(t *testing.T) {
	f := newParamFixture(t)
	assert.Equal(t, []string{od.GroupComm, od.GroupApp}, f.store.Regions())

	require.NoError(t, f.dict.Write(od.IndexStoreParameters, 3, []byte("save")))
	assert.Equal(t, 1, f.medium.Writes(), "only the app region")

	assert.Equal(t, od.AbortSubUnknown, f.dict.Write(od.IndexStoreParameters, 9, []byte("save")))
}

func TestStoreFailureMapsToHardwareAbort(t *testing.T) {
	f := newParamFixture(t)
	f.medium.FailWrites = true

	err := f.dict.Write(od.IndexStoreParameters, 1, []byte("save"))
	assert.Equal(t, od.AbortHardware, err)

	assert.ErrorIs(t, f.store.StoreParameters(SignatureSave), storage.ErrDataCorrupt)
}

func TestNewParameterStoreUnknownRegion(t *testing.T) {
	f := newParamFixture(t)
	_, err := NewParameterStore(f.mgr, nil, "missing")
	assert.ErrorIs(t, err, storage.ErrUnknownRegion)
}
