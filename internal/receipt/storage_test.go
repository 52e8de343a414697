package receipt

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(filepath.Join(tmpDir, "bills"))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			filename  string
			data      []byte
			savedName string
			err       error
		)

		BeforeEach(func() {
			filename = "test.jpg"
			data = []byte("test file content")
		})

		JustBeforeEach(func() {
			savedName, err = storage.Save(filename, data)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the name", func() {
				Expect(savedName).To(Equal(filename))
			})

			It("should save the file to disk", func() {
				Expect(filepath.Join(tmpDir, "bills", filename)).To(BeAnExistingFile())
			})
		})

		When("the name tries to escape the directory", func() {
			BeforeEach(func() {
				filename = "../../escape.jpg"
			})

			It("keeps the file inside the storage directory", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(savedName).To(Equal("escape.jpg"))
				Expect(filepath.Join(tmpDir, "bills", "escape.jpg")).To(BeAnExistingFile())
				Expect(filepath.Join(tmpDir, "escape.jpg")).NotTo(BeAnExistingFile())
			})
		})
	})

	Describe("Get", func() {
		When("the file exists", func() {
			BeforeEach(func() {
				_, err := storage.Save("a.png", []byte("png"))
				Expect(err).NotTo(HaveOccurred())
			})

			It("returns its contents", func() {
				data, err := storage.Get("a.png")
				Expect(err).NotTo(HaveOccurred())
				Expect(data).To(Equal([]byte("png")))
			})
		})

		When("the file does not exist", func() {
			It("returns an error", func() {
				_, err := storage.Get("missing.png")
				Expect(err).To(MatchError(os.ErrNotExist))
			})
		})
	})

	Describe("Delete", func() {
		When("the file exists", func() {
			BeforeEach(func() {
				_, err := storage.Save("a.png", []byte("png"))
				Expect(err).NotTo(HaveOccurred())
			})

			It("removes it", func() {
				Expect(storage.Delete("a.png")).To(Succeed())
				Expect(filepath.Join(tmpDir, "bills", "a.png")).NotTo(BeAnExistingFile())
			})
		})

		When("the file does not exist", func() {
			It("does not return an error", func() {
				Expect(storage.Delete("missing.png")).To(Succeed())
			})
		})
	})
})
