package ethprovider

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// jsonLevel and jsonResult mirror the plain-string/number shape the
// BundlerCollectorTracerJS result object actually serializes as over JSON,
// before being decoded into the common.Address/big.Int-keyed Go types in
// BundlerCollectorResult.
type jsonAccessInfo struct {
	Reads  map[string]bool `json:"reads"`
	Writes map[string]bool `json:"writes"`
}

type jsonLevel struct {
	Access            map[string]jsonAccessInfo `json:"access"`
	Opcodes           map[string]uint64         `json:"opcodes"`
	ContractSize      map[string]uint64         `json:"contractSize"`
	ExtCodeAccessInfo map[string]string         `json:"extCodeAccessInfo"`
	OOG               bool                      `json:"oog"`
}

type jsonCallFrame struct {
	Type    string `json:"type"`
	From    string `json:"from"`
	To      string `json:"to"`
	Method  string `json:"method"`
	Gas     uint64 `json:"gas"`
	GasUsed uint64 `json:"gasUsed"`
	Value   string `json:"value"`
	Return  string `json:"return"`
	Revert  bool   `json:"revert"`
}

type jsonResult struct {
	NumberLevels []jsonLevel     `json:"numberLevels"`
	Keccak       []string        `json:"keccak"`
	Calls        []jsonCallFrame `json:"calls"`
	Logs         []string        `json:"logs"`
	Debug        []string        `json:"debug"`
}

func decodeHex(s string) []byte {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, _ := hex.DecodeString(s)
	return b
}

func (r *BundlerCollectorResult) UnmarshalJSON(data []byte) error {
	var raw jsonResult
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.Logs = raw.Logs
	r.Debug = raw.Debug
	for _, k := range raw.Keccak {
		r.Keccak = append(r.Keccak, decodeHex(k))
	}

	r.NumberLevels = make([]Level, 0, len(raw.NumberLevels))
	for _, jl := range raw.NumberLevels {
		lvl := Level{
			Access:            make(map[common.Address]AccessInfo, len(jl.Access)),
			Opcodes:           jl.Opcodes,
			ContractSize:      make(map[common.Address]uint64, len(jl.ContractSize)),
			ExtCodeAccessInfo: make(map[common.Address]string, len(jl.ExtCodeAccessInfo)),
			OOG:               jl.OOG,
		}
		if lvl.Opcodes == nil {
			lvl.Opcodes = make(map[string]uint64)
		}
		for addr, acc := range jl.Access {
			info := AccessInfo{Reads: make(map[string]struct{}), Writes: make(map[string]struct{})}
			for slot := range acc.Reads {
				info.Reads[slot] = struct{}{}
			}
			for slot := range acc.Writes {
				info.Writes[slot] = struct{}{}
			}
			lvl.Access[common.HexToAddress(addr)] = info
		}
		for addr, size := range jl.ContractSize {
			lvl.ContractSize[common.HexToAddress(addr)] = size
		}
		for addr, op := range jl.ExtCodeAccessInfo {
			lvl.ExtCodeAccessInfo[common.HexToAddress(addr)] = op
		}
		r.NumberLevels = append(r.NumberLevels, lvl)
	}

	r.Calls = make([]CallFrame, 0, len(raw.Calls))
	for _, jc := range raw.Calls {
		cf := CallFrame{
			Type:    jc.Type,
			From:    common.HexToAddress(jc.From),
			To:      common.HexToAddress(jc.To),
			Method:  jc.Method,
			Gas:     jc.Gas,
			GasUsed: jc.GasUsed,
			Return:  decodeHex(jc.Return),
			Revert:  jc.Revert,
		}
		if jc.Value != "" {
			if v, ok := new(big.Int).SetString(strings.TrimPrefix(jc.Value, "0x"), 16); ok {
				cf.Value = v
			}
		}
		r.Calls = append(r.Calls, cf)
	}
	return nil
}
