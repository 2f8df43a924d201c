package application

import "time"

// Clock sumber waktu untuk timestamp laporan dan durasi analisis.
// Interface supaya test bisa inject waktu tetap.
type Clock interface {
	Now() time.Time
}

// SystemClock dipakai di produksi. Selalu UTC biar konsisten dengan
// kolom timestamp yang disimpan repository (DSN juga loc=UTC).
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
