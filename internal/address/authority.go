package address

// Authority описывает, от чьего имени выполняется перевод.
// Подписантом выступает аутентифицированный вызывающий. Производное полномочие
// не хранит ключ: он пересчитывается из тега и базового адреса.
type Authority struct {
	signer Address
	tag    string
	base   Address
}

// Signer возвращает полномочие аутентифицированного вызывающего.
func Signer(a Address) Authority {
	return Authority{signer: a}
}

// DerivedAuthority возвращает полномочие, выведенное из базового адреса и тега.
func DerivedAuthority(tag string, base Address) Authority {
	return Authority{tag: tag, base: base}
}

// EscrowAuthorityOf возвращает производное полномочие эскроу пула.
func EscrowAuthorityOf(pool Address) Authority {
	return DerivedAuthority(TagEscrowAuthority, pool)
}

// IsDerived сообщает, выведено ли полномочие из seed-значений.
func (a Authority) IsDerived() bool {
	return a.tag != ""
}

// Key возвращает адрес, от имени которого действует полномочие.
func (a Authority) Key() Address {
	if a.IsDerived() {
		return Derive(a.tag, a.base[:])
	}
	return a.signer
}

// String возвращает адрес полномочия в base58.
func (a Authority) String() string {
	return a.Key().String()
}
