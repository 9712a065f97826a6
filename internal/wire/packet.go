// Package wire define o formato fixo de pacote e a camada de CRC-32 usada
// diretamente sobre datagramas UDP.
//
// - Aplicação: este pacote define o envelope type+id+payload+crc lido pelo
//   motor do protocolo (internal/engine).
// - Transporte: UDP (net.ListenUDP). Sem confiabilidade nativa; toda a
//   confiabilidade é reconstruída acima desta camada.
// - Rede: IP (endereçamento/roteamento).
// - Enlace: MTU tipicamente ~1500 bytes; o pacote fixo de 1024 bytes evita
//   fragmentação na maioria dos enlaces Ethernet/Wi-Fi comuns.
package wire

import (
	"encoding/binary"
	"hash/crc32"

	"udpflow/internal/config"
)

// Type identifies whether a packet carries a data message or an ack.
type Type byte

const (
	TypeMsg Type = 0
	TypeAck Type = 1
)

// Packet is a decoded wire packet: type(1) + id(4) + payload(1015) + crc32(4).
type Packet struct {
	Type    Type
	ID      uint32
	Payload []byte // always config.PayloadLen bytes, zero-padded
	CRCOK   bool
}

// Encode serializes id/type/payload into a PacketLen-byte frame. payload may
// be shorter than PayloadLen; the remainder is zero-padded. The caller is
// responsible for ensuring len(payload) <= config.PayloadLen.
func Encode(id uint32, typ Type, payload []byte) []byte {
	buf := make([]byte, config.PacketLen)
	buf[0] = byte(typ)
	binary.LittleEndian.PutUint32(buf[1:5], id)
	copy(buf[config.HeaderLen:config.HeaderLen+config.PayloadLen], payload)
	crc := crc32.ChecksumIEEE(buf[:config.HeaderLen+config.PayloadLen])
	binary.LittleEndian.PutUint32(buf[config.HeaderLen+config.PayloadLen:], crc)
	return buf
}

// Decode parses a raw datagram into a Packet. It is total: malformed
// lengths produce CRCOK=false rather than an error, so a single corrupted
// or truncated datagram never aborts the ingress loop.
func Decode(b []byte) Packet {
	if len(b) != config.PacketLen {
		return Packet{CRCOK: false}
	}
	typ := Type(b[0])
	id := binary.LittleEndian.Uint32(b[1:5])
	payload := b[config.HeaderLen : config.HeaderLen+config.PayloadLen]
	trailing := binary.LittleEndian.Uint32(b[config.HeaderLen+config.PayloadLen:])
	computed := crc32.ChecksumIEEE(b[:config.HeaderLen+config.PayloadLen])
	return Packet{
		Type:    typ,
		ID:      id,
		Payload: append([]byte(nil), payload...),
		CRCOK:   computed == trailing,
	}
}

// CRC32 is exposed for payload-level integrity checks outside the codec
// (e.g. file-chunk verification independent of the wire frame).
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
