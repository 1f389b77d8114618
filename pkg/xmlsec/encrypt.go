// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package xmlsec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/leifj/signedxml/xmlenc"
)

// EncryptElement replaces el in its parent with an xenc:EncryptedData
// holding the encrypted serialization of el.
func EncryptElement(el *etree.Element, key []byte, alg, id string) (*etree.Element, error) {
	parent := el.Parent()
	if parent == nil {
		return nil, errors.New("cannot encrypt the document root")
	}
	var buf bytes.Buffer
	el.WriteTo(&buf, &etree.WriteSettings{})

	ed, err := newEncryptedData(buf.Bytes(), key, alg, id, TypeElement)
	if err != nil {
		return nil, err
	}
	idx := el.Index()
	parent.RemoveChildAt(idx)
	parent.InsertChildAt(idx, ed)
	return ed, nil
}

// EncryptContent replaces the children of el with an xenc:EncryptedData
// holding their encrypted serialization.
func EncryptContent(el *etree.Element, key []byte, alg, id string) (*etree.Element, error) {
	var buf bytes.Buffer
	for _, tok := range el.Child {
		tok.WriteTo(&buf, &etree.WriteSettings{})
	}

	ed, err := newEncryptedData(buf.Bytes(), key, alg, id, TypeContent)
	if err != nil {
		return nil, err
	}
	for len(el.Child) > 0 {
		el.RemoveChildAt(0)
	}
	el.AddChild(ed)
	return ed, nil
}

func newEncryptedData(plaintext, key []byte, alg, id, typ string) (*etree.Element, error) {
	size, err := ContentKeySize(alg)
	if err != nil {
		return nil, err
	}
	if len(key) != size {
		return nil, fmt.Errorf("%s requires a %d byte key, got %d", alg, size, len(key))
	}
	ciphertext, err := xmlenc.AESGCMEncrypt(key, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt data: %w", err)
	}

	ed := etree.NewElement("xenc:EncryptedData")
	ed.CreateAttr("xmlns:xenc", NSXMLEnc)
	if id != "" {
		ed.CreateAttr("Id", id)
	}
	ed.CreateAttr("Type", typ)
	method := ed.CreateElement("xenc:EncryptionMethod")
	method.CreateAttr("Algorithm", alg)
	cipherData := ed.CreateElement("xenc:CipherData")
	cipherData.CreateElement("xenc:CipherValue").SetText(base64.StdEncoding.EncodeToString(ciphertext))
	return ed, nil
}

// SetKeyInfo places keyInfo in ed just after its EncryptionMethod.
func SetKeyInfo(ed, keyInfo *etree.Element) {
	if method := childByLocal(ed, "EncryptionMethod"); method != nil {
		ed.InsertChildAt(method.Index()+1, keyInfo)
		return
	}
	ed.InsertChildAt(0, keyInfo)
}

// EncryptionAlgorithm returns the EncryptionMethod Algorithm of an
// EncryptedData or EncryptedKey element.
func EncryptionAlgorithm(el *etree.Element) string {
	if method := childByLocal(el, "EncryptionMethod"); method != nil {
		return method.SelectAttrValue("Algorithm", "")
	}
	return ""
}

// CipherValue returns the decoded CipherValue of an EncryptedData or
// EncryptedKey element.
func CipherValue(el *etree.Element) ([]byte, error) {
	cipherData := childByLocal(el, "CipherData")
	if cipherData == nil {
		return nil, errors.New("missing CipherData")
	}
	value := childByLocal(cipherData, "CipherValue")
	if value == nil {
		return nil, errors.New("missing CipherValue")
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(value.Text()))
}

// DecryptData replaces the xenc:EncryptedData element ed with its decrypted
// content. It returns the element that now holds the plaintext: the
// restored element for Element encryption, or the parent of ed for Content
// encryption.
func DecryptData(ed *etree.Element, key []byte) (*etree.Element, bool, error) {
	parent := ed.Parent()
	if parent == nil {
		return nil, false, errors.New("EncryptedData has no parent")
	}
	alg := EncryptionAlgorithm(ed)
	if _, err := ContentKeySize(alg); err != nil {
		return nil, false, fmt.Errorf("%w: content encryption %s", ErrUnsupportedAlgorithm, alg)
	}
	ciphertext, err := CipherValue(ed)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	plaintext, err := xmlenc.AESGCMDecrypt(key, ciphertext, nil)
	if err != nil {
		return nil, false, ErrDecryption
	}

	wrapper := etree.NewDocument()
	if err := wrapper.ReadFromString("<wrapper>" + string(plaintext) + "</wrapper>"); err != nil {
		return nil, false, fmt.Errorf("%w: decrypted data is not well-formed", ErrDecryption)
	}
	root := wrapper.Root()

	content := ed.SelectAttrValue("Type", TypeContent) == TypeContent
	idx := ed.Index()
	parent.RemoveChildAt(idx)

	tokens := make([]etree.Token, len(root.Child))
	copy(tokens, root.Child)
	var restored *etree.Element
	for i, tok := range tokens {
		parent.InsertChildAt(idx+i, tok)
		if el, ok := tok.(*etree.Element); ok && restored == nil {
			restored = el
		}
	}
	if content {
		return parent, true, nil
	}
	if restored == nil {
		return nil, false, fmt.Errorf("%w: no element in decrypted data", ErrDecryption)
	}
	return restored, false, nil
}

func childByLocal(el *etree.Element, local string) *etree.Element {
	for _, c := range el.ChildElements() {
		if c.Tag == local {
			return c
		}
	}
	return nil
}
