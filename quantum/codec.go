package quantum

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/qcsim/qcsim/arbdata"
	"github.com/qcsim/qcsim/qubit"
)

func canonicalMode() (cbor.EncMode, error) {
	return cbor.CanonicalEncOptions().EncMode()
}

type matrixEnvelope struct {
	Dim  int       `cbor:"dim"`
	Real []float64 `cbor:"real"`
	Imag []float64 `cbor:"imag"`
}

// MarshalCBOR encodes m as its dimension plus parallel real/imaginary
// component arrays, since CBOR has no native complex type.
func (m *Matrix) MarshalCBOR() ([]byte, error) {
	reParts := make([]float64, len(m.data))
	imParts := make([]float64, len(m.data))
	for i, c := range m.data {
		reParts[i] = real(c)
		imParts[i] = imag(c)
	}
	mode, err := canonicalMode()
	if err != nil {
		return nil, err
	}
	return mode.Marshal(matrixEnvelope{Dim: m.dim, Real: reParts, Imag: imParts})
}

// UnmarshalCBOR decodes b into m, replacing its prior contents.
func (m *Matrix) UnmarshalCBOR(b []byte) error {
	var env matrixEnvelope
	if err := cbor.Unmarshal(b, &env); err != nil {
		return err
	}
	data := make([]complex128, len(env.Real))
	for i := range data {
		data[i] = complex(env.Real[i], env.Imag[i])
	}
	m.dim, m.data = env.Dim, data
	return nil
}

type gateEnvelope struct {
	Kind       int      `cbor:"kind"`
	Name       string   `cbor:"name"`
	Targets    []uint64 `cbor:"targets"`
	Controls   []uint64 `cbor:"controls"`
	Measured   []uint64 `cbor:"measured"`
	MatrixCBOR []byte   `cbor:"matrix"`
	DataCBOR   []byte   `cbor:"data"`
}

func refsOf(s *qubit.Set) []uint64 {
	if s == nil {
		return nil
	}
	refs := s.Refs()
	out := make([]uint64, len(refs))
	for i, r := range refs {
		out[i] = uint64(r)
	}
	return out
}

func setFrom(refs []uint64) *qubit.Set {
	rs := make([]qubit.Ref, len(refs))
	for i, r := range refs {
		rs[i] = qubit.Ref(r)
	}
	return qubit.NewSetFrom(rs...)
}

// MarshalCBOR encodes g to its wire form.
func (g *Gate) MarshalCBOR() ([]byte, error) {
	var matrixCBOR, dataCBOR []byte
	var err error
	if g.Matrix != nil {
		if matrixCBOR, err = g.Matrix.MarshalCBOR(); err != nil {
			return nil, err
		}
	}
	if g.Data != nil {
		if dataCBOR, err = g.Data.MarshalCBOR(); err != nil {
			return nil, err
		}
	}
	mode, err := canonicalMode()
	if err != nil {
		return nil, err
	}
	return mode.Marshal(gateEnvelope{
		Kind: int(g.Kind), Name: g.Name,
		Targets: refsOf(g.Targets), Controls: refsOf(g.Controls), Measured: refsOf(g.Measured),
		MatrixCBOR: matrixCBOR, DataCBOR: dataCBOR,
	})
}

// UnmarshalCBOR decodes b into g, replacing its prior contents.
func (g *Gate) UnmarshalCBOR(b []byte) error {
	var env gateEnvelope
	if err := cbor.Unmarshal(b, &env); err != nil {
		return err
	}
	g.Kind = Kind(env.Kind)
	g.Name = env.Name
	g.Targets = setFrom(env.Targets)
	g.Controls = setFrom(env.Controls)
	g.Measured = setFrom(env.Measured)
	if len(env.MatrixCBOR) > 0 {
		g.Matrix = &Matrix{}
		if err := g.Matrix.UnmarshalCBOR(env.MatrixCBOR); err != nil {
			return err
		}
	}
	data := arbdata.New()
	if len(env.DataCBOR) > 0 {
		if err := data.UnmarshalCBOR(env.DataCBOR); err != nil {
			return err
		}
	}
	g.Data = data
	return nil
}

type measurementEnvelope struct {
	Qubit    uint64 `cbor:"qubit"`
	Value    int    `cbor:"value"`
	DataCBOR []byte `cbor:"data"`
}

func (m *Measurement) marshalEnvelope() (measurementEnvelope, error) {
	dataCBOR, err := m.Data.MarshalCBOR()
	if err != nil {
		return measurementEnvelope{}, err
	}
	return measurementEnvelope{Qubit: uint64(m.Qubit), Value: int(m.Value), DataCBOR: dataCBOR}, nil
}

func measurementFromEnvelope(env measurementEnvelope) (*Measurement, error) {
	data := arbdata.New()
	if err := data.UnmarshalCBOR(env.DataCBOR); err != nil {
		return nil, err
	}
	return NewMeasurement(qubit.Ref(env.Qubit), Value(env.Value), data), nil
}

// MarshalCBOR encodes s as an ordered list of its measurements.
func (s *MeasurementSet) MarshalCBOR() ([]byte, error) {
	envs := make([]measurementEnvelope, 0, s.Len())
	for _, q := range s.Qubits() {
		m, _ := s.Get(q)
		env, err := m.marshalEnvelope()
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	mode, err := canonicalMode()
	if err != nil {
		return nil, err
	}
	return mode.Marshal(envs)
}

// UnmarshalCBOR decodes b into s, replacing its prior contents.
func (s *MeasurementSet) UnmarshalCBOR(b []byte) error {
	var envs []measurementEnvelope
	if err := cbor.Unmarshal(b, &envs); err != nil {
		return err
	}
	s.byQubit = map[qubit.Ref]*Measurement{}
	s.order = nil
	for _, env := range envs {
		m, err := measurementFromEnvelope(env)
		if err != nil {
			return err
		}
		s.Put(m)
	}
	return nil
}
