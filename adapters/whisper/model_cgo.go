//go:build whisper

package whisper

import (
	wcpp "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

type cppModel struct {
	model wcpp.Model
}

type cppDecoder struct {
	ctx wcpp.Context
}

// Available reports whether whisper.cpp support is compiled in
func Available() bool { return true }

func loadModel(path string) (model, error) {
	m, err := wcpp.New(path)
	if err != nil {
		return nil, err
	}
	return &cppModel{model: m}, nil
}

func (m *cppModel) NewDecoder() (decoder, error) {
	ctx, err := m.model.NewContext()
	if err != nil {
		return nil, err
	}
	return &cppDecoder{ctx: ctx}, nil
}

func (m *cppModel) Close() error {
	return m.model.Close()
}

func (d *cppDecoder) SetLanguage(lang string) error { return d.ctx.SetLanguage(lang) }

func (d *cppDecoder) SetThreads(n uint) { d.ctx.SetThreads(n) }

func (d *cppDecoder) Process(samples []float32) error {
	return d.ctx.Process(samples, nil, nil, nil)
}

func (d *cppDecoder) DetectedLanguage() string { return d.ctx.DetectedLanguage() }

func (d *cppDecoder) NextSegment() (segment, error) {
	s, err := d.ctx.NextSegment()
	if err != nil {
		return segment{}, err
	}
	return segment{Start: s.Start, End: s.End, Text: s.Text}, nil
}
