package models

import (
	"fmt"
	"strconv"
)

// Раскладка арены подпилларов: база = пиллар*100000 + подпиллар*10000,
// где пиллар и подпиллар принимают значения от 1 до 9.
const (
	PillarCount         = 9
	SubPillarsPerPillar = 9
	SubPillarCount      = PillarCount * SubPillarsPerPillar
	SubPillarWidth      = 10000
	StudentCodeDigits   = 6
)

// SubPillar задаёт базу одного из 81 фиксированного диапазона студенческих кодов.
type SubPillar int

// ParseSubPillar проверяет, что число является одной из допустимых баз.
func ParseSubPillar(base int) (SubPillar, error) {
	sp := SubPillar(base)
	if !sp.Valid() {
		return 0, fmt.Errorf("sub-pillar: %d не является допустимой базой", base)
	}
	return sp, nil
}

// SubPillarAt возвращает подпиллар по индексу слота арены (0..80).
func SubPillarAt(index int) (SubPillar, error) {
	if index < 0 || index >= SubPillarCount {
		return 0, fmt.Errorf("sub-pillar: индекс %d вне арены", index)
	}
	pillar := index/SubPillarsPerPillar + 1
	digit := index%SubPillarsPerPillar + 1
	return SubPillar(pillar*100000 + digit*SubPillarWidth), nil
}

// AllSubPillars перечисляет всю арену по возрастанию баз.
func AllSubPillars() []SubPillar {
	out := make([]SubPillar, 0, SubPillarCount)
	for i := 0; i < SubPillarCount; i++ {
		sp, _ := SubPillarAt(i)
		out = append(out, sp)
	}
	return out
}

func (s SubPillar) Valid() bool {
	base := int(s)
	if base%SubPillarWidth != 0 {
		return false
	}
	pillar := base / 100000
	digit := (base % 100000) / SubPillarWidth
	return pillar >= 1 && pillar <= PillarCount && digit >= 1 && digit <= SubPillarsPerPillar
}

// Index возвращает номер слота в арене или -1 для недопустимой базы.
func (s SubPillar) Index() int {
	if !s.Valid() {
		return -1
	}
	return (s.Pillar()-1)*SubPillarsPerPillar + (s.Digit() - 1)
}

func (s SubPillar) Pillar() int { return int(s) / 100000 }

func (s SubPillar) Digit() int { return (int(s) % 100000) / SubPillarWidth }

// First возвращает первое выдаваемое значение. Сама база означает, что ничего ещё не выдано.
func (s SubPillar) First() int { return int(s) + 1 }

// Last возвращает последнее допустимое значение счётчика.
func (s SubPillar) Last() int { return int(s) + SubPillarWidth - 1 }

// Contains проверяет инвариант base <= n < base + 10000.
func (s SubPillar) Contains(n int) bool {
	return n >= int(s) && n <= s.Last()
}

func (s SubPillar) String() string { return strconv.Itoa(int(s)) }

// FormatStudentCode приводит номер к строке фиксированной ширины.
func FormatStudentCode(n int) string {
	return fmt.Sprintf("%0*d", StudentCodeDigits, n)
}

// SubPillarCounter описывает строку таблицы sub_pillar_counter.
type SubPillarCounter struct {
	SubPillarBase    int `db:"sub_pillar_base" json:"sub_pillar_base"`
	LastIssuedNumber int `db:"last_issued_number" json:"last_issued_number"`
}

// SubPillarUsage описывает заполненность диапазона.
type SubPillarUsage struct {
	SubPillarBase int `json:"sub_pillar_base"`
	Issued        int `json:"issued"`
	Remaining     int `json:"remaining"`
}

// UsageOf считает заполненность по последнему выданному номеру.
func UsageOf(sp SubPillar, lastIssued int) SubPillarUsage {
	issued := lastIssued - int(sp)
	if issued < 0 {
		issued = 0
	}
	return SubPillarUsage{
		SubPillarBase: int(sp),
		Issued:        issued,
		Remaining:     sp.Last() - int(sp) - issued,
	}
}
