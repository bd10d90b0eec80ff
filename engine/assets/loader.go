package assets

import (
	"encoding/binary"
	"fmt"
	"os"
)

// Loader turns a file on disk into bytes the device accepts.
type Loader interface {
	Load(path string) ([]byte, error)
}

const spirvMagic uint32 = 0x07230203

// SPIRVLoader reads compiled shader modules and rejects anything that is not
// little-endian SPIR-V.
type SPIRVLoader struct{}

func (sl *SPIRVLoader) Load(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := checkSPIRV(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, nil
}

func checkSPIRV(data []byte) error {
	if len(data) < 20 || len(data)%4 != 0 {
		return fmt.Errorf("spir-v module of %d bytes is truncated", len(data))
	}
	if magic := binary.LittleEndian.Uint32(data); magic != spirvMagic {
		return fmt.Errorf("bad spir-v magic %#x", magic)
	}
	return nil
}
